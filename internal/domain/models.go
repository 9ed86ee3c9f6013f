// Package domain defines the persistence models for users, interviews and
// interview feedback. These types are mapped with GORM and form the core
// data layer of the mock interview backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// User holds the profile data the interview generator reads. Identity and
// credentials live with the external identity provider; only the fields the
// core needs are stored here.
type User struct {
	ID         string         `json:"id"          gorm:"type:varchar(64);primaryKey"`
	Name       string         `json:"name"        gorm:"type:varchar(255)"`
	Email      string         `json:"email"       gorm:"type:varchar(255);index"`
	Resume     string         `json:"resume"      gorm:"type:text"`
	ProfilePic string         `json:"profile_pic" gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Interview is one interview configuration a user can attempt any number of
// times. Questions and Techstack are written once at creation.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner; indexed together with CreatedAt for "my interviews".
//   - CompanyLogo: uploaded logo URL, empty when no logo was supplied.
//   - Level / Type: see the Level and InterviewType enums.
//   - Techstack / Questions: ordered lists stored as JSON.
//   - FeedbacksNum: denormalized count of Feedback rows; only ever changed
//     by an atomic increment (see repo.IncrementFeedbacksNum).
type Interview struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID         string         `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_user_interviews,priority:1"`
	CompanyName    string         `json:"company_name"    gorm:"type:varchar(255);not null"`
	CompanyLogo    string         `json:"company_logo"    gorm:"type:text;not null;default:''"`
	Role           string         `json:"role"            gorm:"type:varchar(255);not null"`
	Level          Level          `json:"level"           gorm:"type:varchar(16);not null"`
	Type           InterviewType  `json:"type"            gorm:"type:varchar(16);not null"`
	Techstack      []string       `json:"techstack"       gorm:"serializer:json;type:text"`
	JobDescription string         `json:"job_description" gorm:"type:text"`
	Questions      []string       `json:"questions"       gorm:"serializer:json;type:text"`
	FeedbacksNum   int            `json:"feedbacks_num"   gorm:"not null;default:0;check:feedbacks_num >= 0"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_user_interviews,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for Interview.
func (Interview) TableName() string { return "interviews" }

// CategoryScore is the score and comment for one fixed feedback category.
type CategoryScore struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// Feedback is one model-scored evaluation of one interview attempt. Rows are
// immutable; an interview may have many, the newest being the active one.
type Feedback struct {
	ID                  string          `json:"id"                    gorm:"type:char(36);primaryKey"`
	InterviewID         string          `json:"interview_id"          gorm:"type:char(36);not null;index:idx_interview_user_feedback,priority:1"`
	UserID              string          `json:"user_id"               gorm:"type:varchar(64);not null;index:idx_interview_user_feedback,priority:2"`
	TotalScore          int             `json:"total_score"           gorm:"not null;check:total_score BETWEEN 0 AND 100"`
	CategoryScores      []CategoryScore `json:"category_scores"       gorm:"serializer:json;type:text;not null"`
	Strengths           []string        `json:"strengths"             gorm:"serializer:json;type:text"`
	AreasForImprovement []string        `json:"areas_for_improvement" gorm:"serializer:json;type:text"`
	FinalAssessment     string          `json:"final_assessment"      gorm:"type:text"`
	CreatedAt           time.Time       `json:"created_at"            gorm:"index:idx_interview_user_feedback,priority:3"`

	// Interview is the parent record; feedback is cascade-deleted with it.
	Interview Interview `json:"-" gorm:"foreignKey:InterviewID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string { return "feedback" }

// TranscriptEntry is one role-tagged turn of an interview conversation. It is
// never stored on its own; the assembled list is the input to feedback.
type TranscriptEntry struct {
	Role    string `json:"role"    binding:"required,oneof=user assistant system" example:"user"`
	Content string `json:"content" binding:"required" example:"I have five years of Go experience"`
}
