package model

import (
	"fmt"
	"time"
)

// JobType identifies one of the singleton background jobs
type JobType string

const (
	JobTypeScraper JobType = "scraper"
	JobTypeLeadGen JobType = "leadgen"
)

// JobTypes lists every job type the registry knows about
var JobTypes = []JobType{JobTypeScraper, JobTypeLeadGen}

// ParseJobType validates a job type taken from a route parameter
func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case JobTypeScraper, JobTypeLeadGen:
		return JobType(s), nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// DisplayName is the human-readable name used in API messages
func (t JobType) DisplayName() string {
	switch t {
	case JobTypeScraper:
		return "Scraper"
	case JobTypeLeadGen:
		return "Lead generation"
	}
	return string(t)
}

// SessionStatus is the lifecycle state of a job session record
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// Progress is the latest-value snapshot of a running job
type Progress struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

// NotRunning is reported when no job instance exists for a type
var NotRunning = Progress{Percentage: 0, Message: "Not running"}

// SessionMetrics holds per-run counters; fields are job-type specific
type SessionMetrics struct {
	CompaniesGenerated int `json:"companies_generated"`
	ContactsGenerated  int `json:"contacts_generated"`
	CustomersScraped   int `json:"customers_scraped,omitempty"`
	PagesVisited       int `json:"pages_visited,omitempty"`
}

// Session is the durable record of one job run
type Session struct {
	ID          string         `json:"id"`
	JobType     JobType        `json:"job_type"`
	Status      SessionStatus  `json:"status"`
	Progress    int            `json:"progress"`
	Message     string         `json:"message"`
	Metrics     SessionMetrics `json:"metrics"`
	Error       *string        `json:"error"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}

// SessionFinish carries the terminal update written exactly once per session
type SessionFinish struct {
	Status   SessionStatus
	Progress int
	Message  string
	Metrics  SessionMetrics
	Error    string
}

// RunResponse is returned by the start and cancel endpoints
type RunResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// ProgressResponse is returned by the progress endpoints
type ProgressResponse struct {
	IsRunning bool     `json:"isRunning"`
	SessionID string   `json:"sessionId,omitempty"`
	Progress  Progress `json:"progress"`
}

// CountResponse is returned by the scraped customer count endpoint
type CountResponse struct {
	Count int `json:"count"`
}

// Background task types
const (
	TaskTypeActivityRecord = "activity:record"
)
