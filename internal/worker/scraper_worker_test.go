package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrm/crm-jobs/internal/client"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
)

func customerPage(names ...string) string {
	html := `<table id="customer-table"><tbody>`
	for i, n := range names {
		html += fmt.Sprintf(`<tr><td>%d</td><td>%s</td><td>Edit</td></tr>`, i+1, n)
	}
	return html + `</tbody></table>`
}

func saveScraperConfig(t *testing.T, mem *store.Memory, mutate func(*model.ScraperConfig)) {
	t.Helper()
	cfg := &model.ScraperConfig{
		LoginURL: "https://portal.example.com/login",
		Username: "ops",
		Password: "hunter22",
		Headless: true,
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, mem.SaveScraperConfig(context.Background(), cfg))
}

func scraperJob(mem *store.Memory, portal *fakePortal) *Job {
	return scraperJobWith(mem, mem, portal)
}

func scraperJobWith(st ScraperStore, mem *store.Memory, portal *fakePortal) *Job {
	w := NewScraperWorker(ScraperDeps{
		Store:     st,
		NewPortal: func(*model.ScraperConfig) client.CustomerPortal { return portal },
	})
	return NewJob(model.JobTypeScraper, w, mem, JobOptions{
		Retry:  RetryConfig{BaseDelay: time.Millisecond, Sleep: noSleep},
		Logger: zerolog.Nop(),
	})
}

func runScraper(t *testing.T, job *Job) Outcome {
	t.Helper()
	job.running.Store(true)
	go job.Run(context.Background())
	waitDone(t, job)
	return *job.Outcome()
}

func TestScraper_CollectsAllPages(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, nil)
	_, err := mem.ReplaceScrapedCustomers(context.Background(), "old", []string{"Stale Customer"})
	require.NoError(t, err)

	portal := &fakePortal{pages: []string{
		customerPage("Acme Robotics", "Globex"),
		customerPage("Initech", "Globex"),
	}}

	out := runScraper(t, scraperJob(mem, portal))

	require.Equal(t, model.SessionStatusCompleted, out.Status, "err: %v", out.Err)
	assert.True(t, portal.launched)
	assert.True(t, portal.closed)
	assert.Equal(t, "Successfully scraped 3 customers", out.Progress.Message)
	assert.Equal(t, 3, out.Result.Metrics.CustomersScraped)
	assert.Equal(t, 2, out.Result.Metrics.PagesVisited)

	names, err := mem.ScrapedCustomerNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Robotics", "Globex", "Initech"}, names)
}

func TestScraper_MaxCustomers(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, func(c *model.ScraperConfig) { c.MaxCustomers = 2 })
	portal := &fakePortal{pages: []string{customerPage("A1", "B2", "C3"), customerPage("D4")}}

	out := runScraper(t, scraperJob(mem, portal))

	require.Equal(t, model.SessionStatusCompleted, out.Status)
	assert.Equal(t, 2, out.Result.Metrics.CustomersScraped)
	assert.Equal(t, 0, portal.page, "stops before paginating")
}

func TestScraper_StopsAfterEmptyPages(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, nil)
	portal := &fakePortal{pages: []string{
		customerPage("Acme"), customerPage(), customerPage(), customerPage(), customerPage("Never"),
	}}

	out := runScraper(t, scraperJob(mem, portal))

	require.Equal(t, model.SessionStatusCompleted, out.Status)
	assert.Equal(t, 1, out.Result.Metrics.CustomersScraped)
	assert.Equal(t, 4, out.Result.Metrics.PagesVisited)
}

func TestScraper_NoCustomersFails(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, nil)
	portal := &fakePortal{pages: []string{customerPage()}}

	out := runScraper(t, scraperJob(mem, portal))

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Contains(t, out.Err.Error(), "no customers found")
	assert.True(t, portal.closed)
}

func TestScraper_MissingConfiguration(t *testing.T) {
	mem := store.NewMemory()
	portal := &fakePortal{}

	out := runScraper(t, scraperJob(mem, portal))

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Equal(t, "CONFIGURATION_ERROR", ErrorCode(out.Err))
	assert.False(t, portal.launched)
}

func TestScraper_MaskedPassword(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, func(c *model.ScraperConfig) { c.Password = model.SecretMask })

	out := runScraper(t, scraperJob(mem, &fakePortal{}))

	assert.Equal(t, "CONFIGURATION_ERROR", ErrorCode(out.Err))
}

func TestScraper_LoginRejected(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, nil)
	portal := &fakePortal{loginErr: client.ErrLoginRejected}

	out := runScraper(t, scraperJob(mem, portal))

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Equal(t, "AUTHENTICATION_ERROR", ErrorCode(out.Err))
	assert.True(t, portal.closed)
}

func TestScraper_CancelDuringExtraction(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, nil)
	portal := &fakePortal{pages: []string{customerPage("A1"), customerPage("B2"), customerPage("C3")}}
	job := scraperJob(mem, portal)
	portal.onPage = func(page int) {
		if page == 1 {
			job.Cancel()
		}
	}

	out := runScraper(t, job)

	assert.Equal(t, model.SessionStatusCancelled, out.Status)
	assert.True(t, portal.closed)
	count, err := mem.CountScrapedCustomers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestScraper_RetriesFailedPage(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, nil)
	portal := &fakePortal{
		pages:     []string{customerPage("Acme Robotics")},
		tableErrs: []error{errors.New("cdp: target closed")},
	}

	out := runScraper(t, scraperJob(mem, portal))

	require.Equal(t, model.SessionStatusCompleted, out.Status, "err: %v", out.Err)
	assert.Equal(t, 2, portal.tableHits)
	assert.Equal(t, 1, out.Result.Metrics.CustomersScraped)
	assert.Empty(t, out.Result.Artifact.(*ScraperReport).PageErrors)
}

func TestScraper_SkipsPageAfterRetries(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, nil)
	flaky := errors.New("cdp: target closed")
	portal := &fakePortal{
		pages:     []string{customerPage("Lost"), customerPage("Initech")},
		tableErrs: []error{flaky, flaky, flaky},
	}

	out := runScraper(t, scraperJob(mem, portal))

	require.Equal(t, model.SessionStatusCompleted, out.Status, "err: %v", out.Err)
	report := out.Result.Artifact.(*ScraperReport)
	require.Len(t, report.PageErrors, 1)
	assert.Contains(t, report.PageErrors[0], "page 1")
	assert.Equal(t, []string{"Initech"}, report.Customers)
}

func TestScraper_SaveFailureKeepsCustomers(t *testing.T) {
	mem := store.NewMemory()
	saveScraperConfig(t, mem, nil)
	portal := &fakePortal{pages: []string{customerPage("Acme Robotics", "Globex")}}
	st := failingCustomers{Memory: mem, err: errors.New("deadlock detected")}

	out := runScraper(t, scraperJobWith(st, mem, portal))

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Equal(t, "PERSISTENCE_ERROR", ErrorCode(out.Err))
	require.NotNil(t, out.Result)
	assert.Equal(t, []string{"Acme Robotics", "Globex"}, out.Result.Artifact.(*ScraperReport).Customers)
	assert.True(t, portal.closed)

	sess, err := mem.GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, sess.Status)
	require.NotNil(t, sess.Error)
	assert.NotEmpty(t, *sess.Error)
	assert.Equal(t, 2, sess.Metrics.CustomersScraped)
}
