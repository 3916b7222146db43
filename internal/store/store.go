// Package store persists job sessions, job configuration and job results.
package store

import (
	"context"
	"errors"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionClosed is returned when a session already reached a terminal status.
	ErrSessionClosed = errors.New("session already finished")
)

// SessionStore records one row per job run.
type SessionStore interface {
	CreateSession(ctx context.Context, jobType model.JobType) (*model.Session, error)
	UpdateSessionProgress(ctx context.Context, id string, p model.Progress) error
	UpdateSessionMetrics(ctx context.Context, id string, m model.SessionMetrics) error
	FinishSession(ctx context.Context, id string, f model.SessionFinish) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	RecentSessions(ctx context.Context, jobType model.JobType, limit int) ([]model.Session, error)
}

// ConfigStore holds the single configuration row of each job type.
type ConfigStore interface {
	LeadGenConfig(ctx context.Context) (*model.LeadGenConfig, error)
	SaveLeadGenConfig(ctx context.Context, cfg *model.LeadGenConfig) error
	ScraperConfig(ctx context.Context) (*model.ScraperConfig, error)
	SaveScraperConfig(ctx context.Context, cfg *model.ScraperConfig) error
}

// ContactStore is the slice of the CRM contact schema the jobs write to.
type ContactStore interface {
	ContactCompanies(ctx context.Context) ([]string, error)
	InsertContacts(ctx context.Context, contacts []model.Contact) ([]model.Contact, error)
	RecordActivity(ctx context.Context, a model.Activity) error
}

// CustomerStore holds the customer names captured by the scraper.
type CustomerStore interface {
	ScrapedCustomerNames(ctx context.Context) ([]string, error)
	ReplaceScrapedCustomers(ctx context.Context, batchID string, names []string) (int, error)
	CountScrapedCustomers(ctx context.Context) (int, error)
}

// Store is everything the job service needs from durable storage.
type Store interface {
	SessionStore
	ConfigStore
	ContactStore
	CustomerStore
	Ping(ctx context.Context) error
	Close()
}

// DefaultSessionLimit is the number of sessions returned by history endpoints.
const DefaultSessionLimit = 10
