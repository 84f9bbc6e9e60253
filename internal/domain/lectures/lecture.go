package lectures

import (
	"time"

	"github.com/google/uuid"
)

const (
	LectureProcessing = "PROCESSING"
	LectureReady      = "READY"
	LectureFailed     = "FAILED"
)

type Lecture struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Title         string    `gorm:"column:title;not null;default:''" json:"title"`
	TitleInferred bool      `gorm:"column:title_inferred;not null;default:false" json:"title_inferred"`
	// NumSlides stays nil until extraction completes and is then never changed.
	NumSlides *int      `gorm:"column:num_slides" json:"num_slides,omitempty"`
	Status    string    `gorm:"column:status;not null;index" json:"status"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`

	Slides []*Slide `gorm:"foreignKey:LectureID;constraint:OnDelete:CASCADE" json:"slides,omitempty"`
}

func (Lecture) TableName() string { return "lecture" }
