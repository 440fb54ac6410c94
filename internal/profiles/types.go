// Package profiles manages document profiles: their persisted definition, the
// documents attached to them and the recurring trigger that processes those
// documents.
package profiles

import (
	"time"

	"github.com/clofast/clofast/internal/recurrence"
)

// Status is a profile's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// DocumentStatus is a document's processing state.
type DocumentStatus string

const (
	DocumentUnprocessed DocumentStatus = "unprocessed"
	DocumentProcessed   DocumentStatus = "processed"
)

// DefinedTerm is one key/value pair a client attaches to a profile.
type DefinedTerm struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ScheduleConfig is the recurrence a client submits with a profile.
type ScheduleConfig = recurrence.Config

// Profile is a named set of documents plus the recurrence that processes
// them.
type Profile struct {
	ID                string         `json:"id" yaml:"id"`
	UserID            string         `json:"user_id" yaml:"user_id"`
	Title             string         `json:"title" yaml:"title"`
	Description       string         `json:"description" yaml:"description"`
	DefinedTerms      []DefinedTerm  `json:"defined_terms" yaml:"defined_terms"`
	Schedule          ScheduleConfig `json:"schedule_config" yaml:"schedule_config"`
	CronExpression    string         `json:"cron_expression" yaml:"cron_expression"`
	Version           int64          `json:"version" yaml:"version"`
	TotalDocuments    int            `json:"total_documents" yaml:"total_documents"`
	ActiveDocuments   int            `json:"active_documents" yaml:"active_documents"`
	InactiveDocuments int            `json:"inactive_documents" yaml:"inactive_documents"`
	Status            Status         `json:"status" yaml:"status"`
	CreatedAt         time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" yaml:"updated_at"`

	// NextRun is filled in from the scheduler when the profile is read.
	NextRun *time.Time `json:"next_run,omitempty" yaml:"next_run,omitempty"`
}

// Document is a unit of content attached to a profile.
type Document struct {
	ID          string         `json:"id" yaml:"id"`
	ProfileID   string         `json:"profile_id" yaml:"profile_id"`
	Content     string         `json:"content" yaml:"content"`
	Status      DocumentStatus `json:"status" yaml:"status"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty" yaml:"processed_at,omitempty"`
}

// CreateRequest is the input to Registry.Create.
type CreateRequest struct {
	UserID       string         `json:"user_id" yaml:"user_id"`
	Title        string         `json:"profile_title" yaml:"profile_title"`
	Description  string         `json:"profile_description" yaml:"profile_description"`
	DefinedTerms []DefinedTerm  `json:"defined_terms" yaml:"defined_terms"`
	Schedule     ScheduleConfig `json:"schedule_config" yaml:"schedule_config"`
}

// ListOptions filters and orders a profile listing. Zero values mean no
// filter and creation order.
type ListOptions struct {
	UserID string
	// Status is "all", "active" or "inactive"; empty means all.
	Status string
	// Sort is createdTime, profileTitle or total_documents, or one of the
	// combined forms such as createdTimeDSC or ProfileNameASC.
	Sort  string
	Order string
	// TitlePattern is a glob matched against the profile title.
	TitlePattern string
}

// Summary counts profiles by status.
type Summary struct {
	Active   int `json:"active_count"`
	Inactive int `json:"inactive_count"`
	Total    int `json:"total_count"`
}
