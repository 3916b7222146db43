package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

func steppedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestMemory_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sess, err := m.CreateSession(ctx, model.JobTypeLeadGen)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRunning, sess.Status)
	assert.Nil(t, sess.CompletedAt)

	require.NoError(t, m.UpdateSessionProgress(ctx, sess.ID, model.Progress{Percentage: 40, Message: "Matching"}))
	require.NoError(t, m.UpdateSessionMetrics(ctx, sess.ID, model.SessionMetrics{CompaniesGenerated: 3}))

	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "Matching", got.Message)
	assert.Equal(t, 3, got.Metrics.CompaniesGenerated)

	done, err := m.FinishSession(ctx, sess.ID, model.SessionFinish{
		Status:   model.SessionStatusCompleted,
		Progress: 100,
		Message:  "Done",
		Metrics:  model.SessionMetrics{CompaniesGenerated: 3, ContactsGenerated: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Nil(t, done.Error)
}

func TestMemory_FinishSessionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sess, err := m.CreateSession(ctx, model.JobTypeScraper)
	require.NoError(t, err)

	_, err = m.FinishSession(ctx, sess.ID, model.SessionFinish{
		Status: model.SessionStatusFailed,
		Error:  "boom",
	})
	require.NoError(t, err)

	_, err = m.FinishSession(ctx, sess.ID, model.SessionFinish{Status: model.SessionStatusCompleted, Progress: 100})
	assert.ErrorIs(t, err, ErrSessionClosed)

	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)

	// updates after the terminal write are ignored
	require.NoError(t, m.UpdateSessionProgress(ctx, sess.ID, model.Progress{Percentage: 80}))
	got, _ = m.GetSession(ctx, sess.ID)
	assert.Equal(t, 0, got.Progress)
}

func TestMemory_FinishSessionRejectsRunning(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sess, _ := m.CreateSession(ctx, model.JobTypeScraper)

	_, err := m.FinishSession(ctx, sess.ID, model.SessionFinish{Status: model.SessionStatusRunning})
	assert.Error(t, err)

	_, err = m.FinishSession(ctx, "missing", model.SessionFinish{Status: model.SessionStatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_RecentSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.now = steppedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var last string
	for i := 0; i < 12; i++ {
		sess, err := m.CreateSession(ctx, model.JobTypeLeadGen)
		require.NoError(t, err)
		last = sess.ID
	}
	_, err := m.CreateSession(ctx, model.JobTypeScraper)
	require.NoError(t, err)

	sessions, err := m.RecentSessions(ctx, model.JobTypeLeadGen, DefaultSessionLimit)
	require.NoError(t, err)
	require.Len(t, sessions, 10)
	assert.Equal(t, last, sessions[0].ID)
	for i := 1; i < len(sessions); i++ {
		assert.True(t, sessions[i-1].CreatedAt.After(sessions[i].CreatedAt))
		assert.Equal(t, model.JobTypeLeadGen, sessions[i].JobType)
	}
}

func TestMemory_Config(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.LeadGenConfig(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.ScraperConfig(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := model.DefaultLeadGenConfig()
	cfg.OpenAIAPIKey = "sk-test"
	cfg.ApolloAPIKey = "ap-test"
	require.NoError(t, m.SaveLeadGenConfig(ctx, cfg))

	got, err := m.LeadGenConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", got.OpenAIAPIKey)

	got.OpenAIAPIKey = "changed"
	again, _ := m.LeadGenConfig(ctx)
	assert.Equal(t, "sk-test", again.OpenAIAPIKey)
}

func TestMemory_ContactsAndCustomers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	saved, err := m.InsertContacts(ctx, []model.Contact{
		{Name: "Ann", Company: "Acme"},
		{Name: "Bob", Company: "Acme"},
		{Name: "Cy", Company: "Globex"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.NotZero(t, saved[0].ID)
	assert.NotEqual(t, saved[0].ID, saved[1].ID)

	companies, err := m.ContactCompanies(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Acme", "Globex"}, companies)

	n, err := m.ReplaceScrapedCustomers(ctx, "batch-1", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.ReplaceScrapedCustomers(ctx, "batch-2", []string{"C"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := m.CountScrapedCustomers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	names, _ := m.ScrapedCustomerNames(ctx)
	assert.Equal(t, []string{"C"}, names)
}
