package lectures

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	GenerateProcessing = "PROCESSING"
	GenerateReady      = "READY"
	GenerateFailed     = "FAILED"
)

// DefaultClaimTTL bounds how long a PROCESSING claim shields a slide from
// background writers after its last update.
const DefaultClaimTTL = 10 * time.Minute

// Slide holds one rendered page of a lecture and its conversation.
//
// Content[0] is the summary, odd indices are user questions and even indices
// from 2 on are answers. TurnCount mirrors len(Content) and is written in the same
// statement so conditional updates can test it without JSON operators.
type Slide struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	LectureID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_slide_lecture_number" json:"lecture_id"`
	SlideNumber    int            `gorm:"column:slide_number;not null;uniqueIndex:idx_slide_lecture_number" json:"slide_number"`
	Base64         string         `gorm:"column:base64;type:text;not null;default:''" json:"-"`
	Content        datatypes.JSON `gorm:"column:content;type:jsonb;not null" json:"content"`
	TurnCount      int            `gorm:"column:turn_count;not null;default:0" json:"turn_count"`
	GenerateStatus *string        `gorm:"column:generate_status;index" json:"generate_status,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Slide) TableName() string { return "slide" }

// Turns decodes Content; malformed or empty content yields nil.
func (s *Slide) Turns() []string {
	if s == nil || len(s.Content) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(s.Content, &out); err != nil {
		return nil
	}
	return out
}

// Summary returns Content[0] or "".
func (s *Slide) Summary() string {
	turns := s.Turns()
	if len(turns) == 0 {
		return ""
	}
	return turns[0]
}

func (s *Slide) HasSummary() bool {
	return s != nil && s.TurnCount > 0
}

func (s *Slide) StatusIs(status string) bool {
	return s != nil && s.GenerateStatus != nil && *s.GenerateStatus == status
}

// ClaimActive reports whether a PROCESSING claim was refreshed within ttl of now.
// An abandoned claim is not active and the slide is open to background writers.
func (s *Slide) ClaimActive(ttl time.Duration, now time.Time) bool {
	if !s.StatusIs(GenerateProcessing) {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return s.UpdatedAt.After(now.Add(-ttl))
}

// EncodeTurns is the inverse of Turns.
func EncodeTurns(turns []string) datatypes.JSON {
	if turns == nil {
		turns = []string{}
	}
	b, _ := json.Marshal(turns)
	return datatypes.JSON(b)
}

// ValidTurnCount reports whether n content entries satisfy the alternation rule:
// nothing yet, or a summary followed by complete question/answer pairs.
func ValidTurnCount(n int) bool {
	return n == 0 || n%2 == 1
}
