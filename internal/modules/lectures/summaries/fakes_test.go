package summaries

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	"github.com/yungbote/slidestream-backend/internal/data/repos/lectures"
	"github.com/yungbote/slidestream-backend/internal/data/repos/testutil"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/prompts"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/retrieval"
	"github.com/yungbote/slidestream-backend/internal/platform/openai"
)

type titleResult struct {
	title string
	err   error
}

type fakeProvider struct {
	mu sync.Mutex

	deltas    []string
	streamErr error
	// afterDelta runs after the i-th delta was forwarded.
	afterDelta func(i int)

	completeText string
	completeErr  error

	titles []titleResult
	temps  []float64

	streamCalls   int
	completeCalls int
	lastReq       openai.Request
}

func (f *fakeProvider) Stream(_ context.Context, req openai.Request, onDelta func(string)) (string, error) {
	f.mu.Lock()
	f.streamCalls++
	f.lastReq = req
	f.mu.Unlock()
	full := ""
	for i, d := range f.deltas {
		full += d
		onDelta(d)
		if f.afterDelta != nil {
			f.afterDelta(i)
		}
	}
	if f.streamErr != nil {
		return full, f.streamErr
	}
	return full, nil
}

func (f *fakeProvider) Complete(_ context.Context, req openai.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	f.lastReq = req
	return f.completeText, f.completeErr
}

func (f *fakeProvider) CompleteJSON(_ context.Context, req openai.Request, _ string, _ map[string]any, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Temperature != nil {
		f.temps = append(f.temps, *req.Temperature)
	}
	if len(f.titles) == 0 {
		return json.Unmarshal([]byte(`{"title":"Untitled"}`), out)
	}
	r := f.titles[0]
	if len(f.titles) > 1 {
		f.titles = f.titles[1:]
	}
	if r.err != nil {
		return r.err
	}
	b, _ := json.Marshal(map[string]string{"title": r.title})
	return json.Unmarshal(b, out)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Send(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingSink) last() Event {
	evs := r.snapshot()
	if len(evs) == 0 {
		return Event{}
	}
	return evs[len(evs)-1]
}

type scheduleCall struct {
	lectureID uuid.UUID
	completed int
	fanout    int
}

type fakeTrigger struct {
	mu    sync.Mutex
	calls []scheduleCall
}

func (f *fakeTrigger) Schedule(_ context.Context, lectureID uuid.UUID, completed, fanout int) (jobs.EnqueueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduleCall{lectureID, completed, fanout})
	return jobs.EnqueueResult{}, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	ready  []int
	failed []int
	titles []string
}

func (f *fakeEvents) SlideReady(_ context.Context, s *types.Slide) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = append(f.ready, s.SlideNumber)
}

func (f *fakeEvents) SlideFailed(_ context.Context, s *types.Slide, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, s.SlideNumber)
}

func (f *fakeEvents) LectureTitled(_ context.Context, _ uuid.UUID, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
}

type harness struct {
	db       *gorm.DB
	slides   lectures.SlideRepo
	lectures lectures.LectureRepo
	provider *fakeProvider
	trigger  *fakeTrigger
	events   *fakeEvents
	prompts  *prompts.Set
	titles   *TitleInferer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	set, err := prompts.Load()
	if err != nil {
		t.Fatalf("prompts.Load: %v", err)
	}
	h := &harness{
		db:       db,
		slides:   lectures.NewSlideRepo(db, testutil.Logger(t)),
		lectures: lectures.NewLectureRepo(db, testutil.Logger(t)),
		provider: &fakeProvider{},
		trigger:  &fakeTrigger{},
		events:   &fakeEvents{},
		prompts:  set,
	}
	h.titles = NewTitleInferer(testutil.Logger(t), h.provider, set, h.lectures, h.events)
	return h
}

func (h *harness) streamer(t *testing.T) *Streamer {
	return NewStreamer(StreamerDeps{
		Log:       testutil.Logger(t),
		Slides:    h.slides,
		Lectures:  h.lectures,
		Retriever: retrieval.NewRetriever(h.slides),
		Prompts:   h.prompts,
		Provider:  h.provider,
		Titles:    h.titles,
		Trigger:   h.trigger,
		Events:    h.events,
	})
}

func (h *harness) background(t *testing.T) *BackgroundHandler {
	return NewBackgroundHandler(BackgroundDeps{
		Log:       testutil.Logger(t),
		Slides:    h.slides,
		Lectures:  h.lectures,
		Retriever: retrieval.NewRetriever(h.slides),
		Prompts:   h.prompts,
		Provider:  h.provider,
		Titles:    h.titles,
		Events:    h.events,
	})
}

func (h *harness) conversation(t *testing.T) *Conversation {
	return NewConversation(ConversationDeps{
		Log:      testutil.Logger(t),
		Slides:   h.slides,
		Semantic: nil,
		Prompts:  h.prompts,
		Provider: h.provider,
	})
}
