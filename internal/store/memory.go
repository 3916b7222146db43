package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

// Memory is an in-process Store used by tests and by `serve --memory`.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]*model.Session
	leadgen   *model.LeadGenConfig
	scraper   *model.ScraperConfig
	contacts  []model.Contact
	acts      []model.Activity
	customers []model.ScrapedCustomer
	nextID    int64
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) CreateSession(_ context.Context, jobType model.JobType) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := &model.Session{
		ID:        uuid.NewString(),
		JobType:   jobType,
		Status:    model.SessionStatusRunning,
		Message:   "Started",
		CreatedAt: m.now(),
	}
	m.sessions[sess.ID] = sess
	cp := *sess
	return &cp, nil
}

func (m *Memory) UpdateSessionProgress(_ context.Context, id string, p model.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok && sess.Status == model.SessionStatusRunning {
		sess.Progress = p.Percentage
		sess.Message = p.Message
	}
	return nil
}

func (m *Memory) UpdateSessionMetrics(_ context.Context, id string, metrics model.SessionMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok && sess.Status == model.SessionStatusRunning {
		sess.Metrics = metrics
	}
	return nil
}

func (m *Memory) FinishSession(_ context.Context, id string, f model.SessionFinish) (*model.Session, error) {
	if !f.Status.IsTerminal() {
		return nil, fmt.Errorf("finish session: %q is not a terminal status", f.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status != model.SessionStatusRunning {
		return nil, ErrSessionClosed
	}

	now := m.now()
	sess.Status = f.Status
	sess.Progress = f.Progress
	sess.Message = f.Message
	sess.Metrics = f.Metrics
	sess.CompletedAt = &now
	sess.Error = nil
	if f.Error != "" {
		msg := f.Error
		sess.Error = &msg
	}

	cp := *sess
	return &cp, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *Memory) RecentSessions(_ context.Context, jobType model.JobType, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}

	m.mu.RLock()
	out := make([]model.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.JobType == jobType {
			out = append(out, *sess)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) LeadGenConfig(context.Context) (*model.LeadGenConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leadgen == nil {
		return nil, ErrNotFound
	}
	cp := *m.leadgen
	return &cp, nil
}

func (m *Memory) SaveLeadGenConfig(_ context.Context, cfg *model.LeadGenConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cfg
	m.leadgen = &cp
	return nil
}

func (m *Memory) ScraperConfig(context.Context) (*model.ScraperConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.scraper == nil {
		return nil, ErrNotFound
	}
	cp := *m.scraper
	return &cp, nil
}

func (m *Memory) SaveScraperConfig(_ context.Context, cfg *model.ScraperConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cfg
	m.scraper = &cp
	return nil
}

func (m *Memory) ContactCompanies(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, c := range m.contacts {
		if c.Company == "" {
			continue
		}
		if _, ok := seen[c.Company]; ok {
			continue
		}
		seen[c.Company] = struct{}{}
		out = append(out, c.Company)
	}
	return out, nil
}

func (m *Memory) InsertContacts(_ context.Context, contacts []model.Contact) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("insert contact: name is required")
		}
		m.nextID++
		c.ID = m.nextID
		saved = append(saved, c)
	}
	m.contacts = append(m.contacts, saved...)
	return saved, nil
}

func (m *Memory) RecordActivity(_ context.Context, a model.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acts = append(m.acts, a)
	return nil
}

// Contacts returns a copy of every stored contact.
func (m *Memory) Contacts() []model.Contact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Contact(nil), m.contacts...)
}

// Activities returns a copy of every recorded activity.
func (m *Memory) Activities() []model.Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Activity(nil), m.acts...)
}

func (m *Memory) ScrapedCustomerNames(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, c.Name)
	}
	return out, nil
}

func (m *Memory) ReplaceScrapedCustomers(_ context.Context, batchID string, names []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	customers := make([]model.ScrapedCustomer, 0, len(names))
	for i, name := range names {
		customers = append(customers, model.ScrapedCustomer{
			ID:        int64(i + 1),
			Name:      name,
			Source:    model.SourcePrecisionExpedited,
			BatchID:   batchID,
			ScrapedAt: now,
		})
	}
	m.customers = customers
	return len(customers), nil
}

func (m *Memory) CountScrapedCustomers(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.customers), nil
}

var _ Store = (*Memory)(nil)
