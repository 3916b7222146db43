package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrm/crm-jobs/internal/client"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
)

const testOpenAIKey = "sk-test-0123456789abcdefghij"

func saveLeadGenConfig(t *testing.T, mem *store.Memory, mutate func(*model.LeadGenConfig)) {
	t.Helper()
	cfg := model.DefaultLeadGenConfig()
	cfg.OpenAIAPIKey = testOpenAIKey
	cfg.ApolloAPIKey = "apollo-test-key"
	cfg.MaxCompanies = 5
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, mem.SaveLeadGenConfig(context.Background(), cfg))
}

type leadGenFixture struct {
	mem       *store.Memory
	generator *fakeGenerator
	directory *fakeDirectory
	sites     fakeSites
	insertErr error

	mu       sync.Mutex
	progress []int
}

func newLeadGenFixture() *leadGenFixture {
	return &leadGenFixture{
		mem:       store.NewMemory(),
		generator: &fakeGenerator{},
		directory: &fakeDirectory{orgs: map[string][]model.Organization{}, people: map[string][]model.Person{}},
		sites:     fakeSites{},
	}
}

func (f *leadGenFixture) job() *Job {
	var st LeadGenStore = f.mem
	if f.insertErr != nil {
		st = failingContacts{Memory: f.mem, err: f.insertErr}
	}
	w := NewLeadGenWorker(LeadGenDeps{
		Store:        st,
		Activities:   f.mem,
		Sites:        f.sites,
		NewGenerator: func(*model.LeadGenConfig) client.CompanyGenerator { return f.generator },
		NewDirectory: func(*model.LeadGenConfig) client.ContactDirectory { return f.directory },
		Sleep:        noSleep,
	})
	return NewJob(model.JobTypeLeadGen, w, f.mem, JobOptions{
		Retry:  RetryConfig{BaseDelay: time.Millisecond, Sleep: noSleep},
		Logger: zerolog.Nop(),
		OnProgress: func(_ model.JobType, _ string, p model.Progress) {
			f.mu.Lock()
			f.progress = append(f.progress, p.Percentage)
			f.mu.Unlock()
		},
	})
}

func (f *leadGenFixture) run(t *testing.T, job *Job) Outcome {
	t.Helper()
	job.running.Store(true)
	go job.Run(context.Background())
	waitDone(t, job)
	return *job.Outcome()
}

func TestLeadGen_GeneratesContacts(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	_, err := f.mem.InsertContacts(context.Background(), []model.Contact{{Name: "Existing", Company: "Initech"}})
	require.NoError(t, err)

	f.generator.csv = `company_name,company_website
Acme Inc,https://acme.com
Boeing,https://boeing.com
Initech LLC,https://initech.com
"Globex, LLC","https://globex.com"
Dead Site,https://dead.example`
	f.sites["https://acme.com"] = true
	f.sites["https://globex.com"] = true
	f.directory.orgs["Acme Inc"] = []model.Organization{
		{ID: "org-acme", Name: "ACME Corporation", WebsiteURL: "https://acme.com"},
		{ID: "org-other", Name: "Unrelated Co"},
	}
	f.directory.people["org-acme"] = []model.Person{
		{Name: "Ann Lee", FirstName: "Ann", Title: "Buyer", Email: "email_not_unlocked@domain.com", Country: "United States"},
		{Name: "Ghost", FirstName: ""},
		{Name: "Hans Meier", FirstName: "Hans", Country: "Germany"},
	}

	out := f.run(t, f.job())

	require.Equal(t, model.SessionStatusCompleted, out.Status, "err: %v", out.Err)
	assert.Equal(t, 2, out.Result.Metrics.CompaniesGenerated)
	assert.Equal(t, 1, out.Result.Metrics.ContactsGenerated)
	assert.Equal(t, "Completed! Generated 1 new leads from 1 companies", out.Progress.Message)

	contacts := f.mem.Contacts()
	require.Len(t, contacts, 2)
	ann := contacts[1]
	assert.Equal(t, "Ann Lee", ann.Name)
	assert.Equal(t, "ACME Corporation", ann.Company)
	assert.Empty(t, ann.Email)
	assert.Equal(t, model.SourceApolloLeadGen, ann.Source)
	assert.Equal(t, "Generated via Apollo API from https://acme.com", ann.Notes)
	assert.Equal(t, model.DefaultContactFrequency, ann.ContactFrequency)

	acts := f.mem.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, ann.ID, acts[0].ContactID)
	assert.Equal(t, `Contact "Ann Lee" was created via Apollo Lead Generation`, acts[0].Description)

	report, ok := out.Result.Artifact.(*LeadGenReport)
	require.True(t, ok)
	assert.Len(t, report.Excluded, 2)
	assert.Len(t, report.Verified, 2)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 1; i < len(f.progress); i++ {
		assert.GreaterOrEqual(t, f.progress[i], f.progress[i-1], "progress moved backward: %v", f.progress)
	}
	assert.Equal(t, 100, f.progress[len(f.progress)-1])

	sess, err := f.mem.GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, sess.Status)
	require.NotNil(t, sess.CompletedAt)
}

func TestLeadGen_MissingConfiguration(t *testing.T) {
	f := newLeadGenFixture()

	out := f.run(t, f.job())

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, out.Err, &cfgErr)
	assert.Equal(t, 0, f.generator.probes)

	sess, err := f.mem.GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, sess.Status)
	assert.Equal(t, 0, sess.Progress)
	require.NotNil(t, sess.Error)
	assert.NotEmpty(t, *sess.Error)
	require.NotNil(t, sess.CompletedAt)
}

func TestLeadGen_MaskedKeyIsConfigurationError(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, func(c *model.LeadGenConfig) { c.OpenAIAPIKey = model.SecretMask })

	out := f.run(t, f.job())

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Equal(t, "CONFIGURATION_ERROR", ErrorCode(out.Err))
	assert.Contains(t, out.Err.Error(), "masked")
}

func TestLeadGen_ProbeRetriesTransientFailures(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	f.generator.probeErrs = []error{
		errors.New("connection reset"),
		&client.APIError{Service: "OpenAI", StatusCode: http.StatusBadGateway, Message: "bad gateway"},
	}
	f.generator.csv = "Acme Inc,https://acme.com"

	out := f.run(t, f.job())

	assert.Equal(t, 3, f.generator.probes)
	assert.Equal(t, model.SessionStatusCompleted, out.Status, "err: %v", out.Err)
}

func TestLeadGen_RejectedKeyIsAuthenticationError(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	rejected := &client.APIError{Service: "OpenAI", StatusCode: http.StatusUnauthorized, Message: "Incorrect API key provided"}
	f.generator.probeErrs = []error{rejected, rejected, rejected}

	out := f.run(t, f.job())

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Equal(t, "AUTHENTICATION_ERROR", ErrorCode(out.Err))
	var retryErr *RetryError
	require.ErrorAs(t, out.Err, &retryErr)
	assert.Equal(t, "OpenAI API validation", retryErr.Op)
}

func TestLeadGen_NoCompaniesParsed(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	f.generator.csv = "I am unable to help with that request"

	out := f.run(t, f.job())

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Contains(t, out.Err.Error(), "no valid companies parsed")
}

func TestLeadGen_CancelDuringProcessing(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	f.generator.csv = "Acme Inc,https://acme.com\nGlobex,https://globex.com"
	f.sites["https://acme.com"] = true
	f.sites["https://globex.com"] = true
	f.directory.orgs["Acme Inc"] = []model.Organization{{ID: "org-acme", Name: "Acme Inc"}}
	f.directory.people["org-acme"] = []model.Person{{Name: "Ann Lee", FirstName: "Ann"}}

	job := f.job()
	f.directory.onOrgCall = func(string) { job.Cancel() }

	out := f.run(t, job)

	assert.Equal(t, model.SessionStatusCancelled, out.Status)
	assert.Empty(t, f.mem.Contacts(), "nothing is persisted after cancellation")

	sess, err := f.mem.GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelled, sess.Status)
	assert.Equal(t, 0, sess.Progress)
}

func TestLeadGen_SaveFailureKeepsContacts(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	f.insertErr = errors.New("connection refused")
	f.generator.csv = "Acme Inc,https://acme.com"
	f.sites["https://acme.com"] = true
	f.directory.orgs["Acme Inc"] = []model.Organization{{ID: "org-acme", Name: "Acme Inc"}}
	f.directory.people["org-acme"] = []model.Person{{Name: "Ann Lee", FirstName: "Ann", Country: "United States"}}

	out := f.run(t, f.job())

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Equal(t, "PERSISTENCE_ERROR", ErrorCode(out.Err))
	require.NotNil(t, out.Result)
	assert.Equal(t, 1, out.Result.Metrics.ContactsGenerated)
	report := out.Result.Artifact.(*LeadGenReport)
	require.Len(t, report.Contacts, 1)
	assert.Equal(t, "Ann Lee", report.Contacts[0].Name)
	assert.Empty(t, f.mem.Activities())

	sess, err := f.mem.GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusFailed, sess.Status)
	require.NotNil(t, sess.Error)
	assert.NotEmpty(t, *sess.Error)
	assert.Equal(t, 1, sess.Metrics.ContactsGenerated)
	assert.Equal(t, 1, sess.Metrics.CompaniesGenerated)
}

func TestLeadGen_CancelKeepsRecordedMetrics(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	f.generator.csv = "Acme Inc,https://acme.com\nGlobex,https://globex.com"
	f.sites["https://acme.com"] = true
	f.sites["https://globex.com"] = true
	f.directory.orgs["Acme Inc"] = []model.Organization{{ID: "org-acme", Name: "Acme Inc"}}
	f.directory.people["org-acme"] = []model.Person{{Name: "Ann Lee", FirstName: "Ann"}}

	job := f.job()
	f.directory.onOrgCall = func(name string) {
		if name == "Globex" {
			job.Cancel()
		}
	}

	out := f.run(t, job)

	require.Equal(t, model.SessionStatusCancelled, out.Status)
	assert.Nil(t, out.Result)
	assert.Equal(t, 2, out.Metrics.CompaniesGenerated)
	assert.Equal(t, 1, out.Metrics.ContactsGenerated)

	sess, err := f.mem.GetSession(context.Background(), out.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelled, sess.Status)
	assert.Equal(t, 2, sess.Metrics.CompaniesGenerated)
	assert.Equal(t, 1, sess.Metrics.ContactsGenerated)
}

func TestLeadGen_BadRequestIsNotRetried(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	f.generator.probeErrs = []error{
		&client.APIError{Service: "OpenAI", StatusCode: http.StatusNotFound, Message: "The model `gpt-9` does not exist"},
	}

	out := f.run(t, f.job())

	assert.Equal(t, model.SessionStatusFailed, out.Status)
	assert.Equal(t, 1, f.generator.probes)
	assert.Equal(t, "REQUEST_REJECTED", ErrorCode(out.Err))
	var cfgErr *ConfigurationError
	assert.False(t, errors.As(out.Err, &cfgErr))
}

func TestLeadGen_ApolloFailureSkipsCompany(t *testing.T) {
	f := newLeadGenFixture()
	saveLeadGenConfig(t, f.mem, nil)
	f.generator.csv = "Acme Inc,https://acme.com"
	f.sites["https://acme.com"] = true
	f.directory.orgErr = &client.APIError{Service: "Apollo", StatusCode: http.StatusServiceUnavailable, Message: "unavailable"}

	out := f.run(t, f.job())

	require.Equal(t, model.SessionStatusCompleted, out.Status, "err: %v", out.Err)
	assert.Equal(t, 0, out.Result.Metrics.ContactsGenerated)
	assert.Equal(t, []string{"Acme Inc"}, out.Result.Artifact.(*LeadGenReport).Skipped)
}

func TestParseCompanyCSV(t *testing.T) {
	got := ParseCompanyCSV(`company_name,company_website
Acme Inc,https://acme.com

"Smith, Jones & Co","https://smithjones.com"
no comma here
X,https://x.com
Empty Site,`)

	assert.Equal(t, []model.Company{
		{Name: "Acme Inc", Website: "https://acme.com"},
		{Name: "Smith, Jones & Co", Website: "https://smithjones.com"},
	}, got)
}

func TestPeopleToContacts(t *testing.T) {
	today := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	got := PeopleToContacts([]model.Person{
		{Name: "Ann Lee", FirstName: "Ann", Title: "Buyer", PhoneNumber: "+1 555 0100", Country: "USA"},
		{Name: "Bo", FirstName: "Bo", Phone: "phone_not_unlocked", LinkedInURL: "https://linkedin.com/in/bo"},
		{Name: "Cy", FirstName: "Cy", Country: "Canada"},
	}, "Acme", "https://acme.com", today)

	require.Len(t, got, 2)
	assert.Equal(t, "+1 555 0100", got[0].Phone)
	assert.Empty(t, got[1].Phone)
	assert.Equal(t, "https://linkedin.com/in/bo", got[1].LinkedIn)
	assert.Equal(t, today, got[0].NextContactDate)
}

func TestValidateLeadGenConfig(t *testing.T) {
	tests := []struct {
		name   string
		openai string
		apollo string
		ok     bool
	}{
		{"valid", testOpenAIKey, "ap", true},
		{"missing openai", "", "ap", false},
		{"missing apollo", testOpenAIKey, "", false},
		{"masked", "sk-****************************", "ap", false},
		{"wrong prefix", "pk-0123456789abcdefghijkl", "ap", false},
		{"too short", "sk-short", "ap", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLeadGenConfig(&model.LeadGenConfig{OpenAIAPIKey: tt.openai, ApolloAPIKey: tt.apollo})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}
