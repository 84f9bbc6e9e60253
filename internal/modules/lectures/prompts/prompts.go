package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/slidestream-backend/internal/modules/lectures/retrieval"
	"github.com/yungbote/slidestream-backend/internal/platform/openai"
)

// promptsEnv points at a YAML file that replaces the embedded templates.
const promptsEnv = "SLIDE_PROMPTS_YAML"

//go:embed prompts.yaml
var promptsFS embed.FS

type yamlPrompts struct {
	Version           int    `yaml:"version"`
	Latex             string `yaml:"latex"`
	Summary           string `yaml:"summary"`
	SimplifiedSummary string `yaml:"simplified_summary"`
	TitleSystem       string `yaml:"title_system"`
	TitleUser         string `yaml:"title_user"`
	RelatedContext    string `yaml:"related_context"`
	ConversationQuery string `yaml:"conversation_query"`
	RateLimited       string `yaml:"rate_limited"`
}

// Set renders every prompt the lecture module sends.
type Set struct {
	latex             string
	simplifiedSummary string
	rateLimited       string

	summary           *template.Template
	titleSystem       *template.Template
	titleUser         *template.Template
	relatedContext    *template.Template
	conversationQuery *template.Template
}

// Load parses $SLIDE_PROMPTS_YAML when set, else the embedded templates.
func Load() (*Set, error) {
	data, err := readPrompts()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func readPrompts() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(promptsEnv)); path != "" {
		return os.ReadFile(path)
	}
	return promptsFS.ReadFile("prompts.yaml")
}

func Parse(data []byte) (*Set, error) {
	var raw yamlPrompts
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	for name, v := range map[string]string{
		"summary":            raw.Summary,
		"title_system":       raw.TitleSystem,
		"title_user":         raw.TitleUser,
		"conversation_query": raw.ConversationQuery,
		"rate_limited":       raw.RateLimited,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("prompts: %s is empty", name)
		}
	}

	s := &Set{
		latex:             strings.TrimSpace(raw.Latex),
		simplifiedSummary: strings.TrimSpace(raw.SimplifiedSummary),
		rateLimited:       strings.TrimSpace(raw.RateLimited),
	}
	var err error
	if s.summary, err = template.New("summary").Parse(raw.Summary); err != nil {
		return nil, err
	}
	if s.titleSystem, err = template.New("title_system").Parse(raw.TitleSystem); err != nil {
		return nil, err
	}
	if s.titleUser, err = template.New("title_user").Parse(raw.TitleUser); err != nil {
		return nil, err
	}
	if s.relatedContext, err = template.New("related_context").Parse(raw.RelatedContext); err != nil {
		return nil, err
	}
	if s.conversationQuery, err = template.New("conversation_query").Parse(raw.ConversationQuery); err != nil {
		return nil, err
	}
	return s, nil
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		// Templates are validated at Parse; a failure here means a field was renamed.
		panic(fmt.Sprintf("render %s: %v", t.Name(), err))
	}
	return strings.TrimSpace(buf.String())
}

// RateLimited is the message users see when the provider refuses a request.
func (s *Set) RateLimited() string { return s.rateLimited }

func (s *Set) SummaryInstruction(contextCount int) string {
	return render(s.summary, map[string]any{"ContextCount": contextCount, "Latex": s.latex})
}

// TitleSystem adds a stricter reminder from the second attempt on.
func (s *Set) TitleSystem(attempt int) string {
	return render(s.titleSystem, map[string]any{"Retry": attempt > 1})
}

func (s *Set) TitleUser(summary string) string {
	return render(s.titleUser, map[string]any{"Summary": summary})
}

func (s *Set) ConversationQuery(query string, related []retrieval.ContextSlide) string {
	relatedText := ""
	if len(related) > 0 {
		summaries := make([]string, 0, len(related))
		for _, r := range related {
			summaries = append(summaries, r.Summary)
		}
		relatedText = render(s.relatedContext, map[string]any{"Related": summaries})
	}
	return render(s.conversationQuery, map[string]any{"Related": relatedText, "Query": query, "Latex": s.latex})
}

// ImageURL wraps a stored slide payload as a data URL.
func ImageURL(base64 string) string {
	if strings.HasPrefix(base64, "data:") {
		return base64
	}
	return "data:image/png;base64," + base64
}

func slideTurn(base64, text string) openai.Message {
	return openai.Message{
		Role:   openai.RoleUser,
		Text:   text,
		Images: []openai.ImageInput{{ImageURL: ImageURL(base64)}},
	}
}

// SummaryMessages replays each earlier slide as an image turn answered by its
// summary, then asks for the current slide. prior must be chronological.
func (s *Set) SummaryMessages(prior []retrieval.ContextSlide, base64 string) []openai.Message {
	out := make([]openai.Message, 0, 2*len(prior)+1)
	for _, p := range prior {
		out = append(out,
			slideTurn(p.Base64, ""),
			openai.Message{Role: openai.RoleAssistant, Text: p.Summary},
		)
	}
	return append(out, slideTurn(base64, s.SummaryInstruction(len(prior))))
}

// ConversationMessages shows the slide, replays the stored turns (summary and
// answers as assistant, questions as user) and appends the new query.
func (s *Set) ConversationMessages(base64 string, turns []string, query string, related []retrieval.ContextSlide) []openai.Message {
	out := make([]openai.Message, 0, len(turns)+2)
	out = append(out, slideTurn(base64, s.simplifiedSummary))
	for i, text := range turns {
		role := openai.RoleAssistant
		if i%2 == 1 {
			role = openai.RoleUser
		}
		out = append(out, openai.Message{Role: role, Text: text})
	}
	return append(out, openai.Message{Role: openai.RoleUser, Text: s.ConversationQuery(query, related)})
}

// TitleRequest builds the JSON-mode request for one title attempt.
func (s *Set) TitleRequest(summary string, attempt int, temperature float64) openai.Request {
	return openai.Request{
		Instructions:    s.TitleSystem(attempt),
		Messages:        []openai.Message{{Role: openai.RoleUser, Text: s.TitleUser(summary)}},
		Temperature:     &temperature,
		MaxOutputTokens: 40,
	}
}
