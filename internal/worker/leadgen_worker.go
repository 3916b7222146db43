package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldcrm/crm-jobs/internal/client"
	"github.com/fieldcrm/crm-jobs/internal/matcher"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
)

// TargetTitles are the job titles requested from the people search
var TargetTitles = []string{
	"Mechanical Engineer", "Senior Mechanical Engineer", "Lead Mechanical Engineer",
	"Principal Mechanical Engineer", "Mechanical Design Engineer", "Design Engineer",
	"Product Design Engineer", "Hardware Design Engineer", "Development Engineer",
	"R&D Engineer", "Product Engineer", "Engineering Manager", "Mechanical Engineering Manager",
	"Product Development Manager", "R&D Manager", "Design Manager", "Chief Engineer",
	"VP Engineering", "Director of Engineering", "Buyer", "Purchaser", "Procurement Specialist",
	"Procurement Manager", "Supply Chain Manager", "Sourcing Manager", "Product Manager",
	"Senior Product Manager", "New Product Development", "NPI Manager", "NPI Engineer",
}

const (
	extraCompanies        = 20
	defaultVerifySpacing  = 500 * time.Millisecond
	minOpenAIKeyLength    = 20
	contactCreatedMessage = "Contact %q was created via Apollo Lead Generation"
)

// LeadGenStore is the storage the lead generator reads from and writes to
type LeadGenStore interface {
	LeadGenConfig(ctx context.Context) (*model.LeadGenConfig, error)
	ContactCompanies(ctx context.Context) ([]string, error)
	ScrapedCustomerNames(ctx context.Context) ([]string, error)
	InsertContacts(ctx context.Context, contacts []model.Contact) ([]model.Contact, error)
}

// ActivityRecorder records the activity entry of a new contact
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, a model.Activity) error
}

// LeadGenDeps wires the lead generator to its collaborators
type LeadGenDeps struct {
	Store         LeadGenStore
	Activities    ActivityRecorder
	Sites         client.SiteChecker
	NewGenerator  func(cfg *model.LeadGenConfig) client.CompanyGenerator
	NewDirectory  func(cfg *model.LeadGenConfig) client.ContactDirectory
	VerifySpacing time.Duration
	CallTimeout   time.Duration
	Sleep         Sleeper
}

// LeadGenReport is the run artifact uploaded after a lead generation run
type LeadGenReport struct {
	Generated []model.Company `json:"generated"`
	Excluded  []model.Company `json:"excluded"`
	Verified  []model.Company `json:"verified"`
	Skipped   []string        `json:"skipped,omitempty"`
	Contacts  []model.Contact `json:"contacts"`
}

// LeadGenWorker generates companies, finds their people and saves them as contacts
type LeadGenWorker struct {
	deps LeadGenDeps
}

func NewLeadGenWorker(deps LeadGenDeps) *LeadGenWorker {
	if deps.VerifySpacing < 0 {
		deps.VerifySpacing = 0
	}
	if deps.Sleep == nil {
		deps.Sleep = TimerSleeper
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = 30 * time.Second
	}
	return &LeadGenWorker{deps: deps}
}

// Run executes one lead generation pass
func (w *LeadGenWorker) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	rc.Progress(3, "Initializing lead generation...")
	cfg, err := w.loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if err := rc.Checkpoint(ctx); err != nil {
		return nil, err
	}
	rc.Progress(5, "Validating OpenAI API key...")
	generator := w.deps.NewGenerator(cfg)
	err = rc.Retry.Do(ctx, "OpenAI API validation", func(ctx context.Context) error {
		return classifyOpenAIError(generator.Probe(ctx))
	})
	if err != nil {
		return nil, err
	}

	rc.Progress(8, "Building company blacklist...")
	blacklist, err := w.buildBlacklist(ctx)
	if err != nil {
		return nil, err
	}
	rc.Logger.Info().Int("entries", blacklist.Len()).Msg("blacklist built")

	if err := rc.Checkpoint(ctx); err != nil {
		return nil, err
	}
	report := &LeadGenReport{}
	verified, err := w.generateCompanies(ctx, rc, cfg, generator, blacklist, report)
	if err != nil {
		return nil, err
	}
	metrics := model.SessionMetrics{CompaniesGenerated: len(verified)}
	rc.RecordMetrics(ctx, metrics)

	contacts, productive, err := w.collectContacts(ctx, rc, cfg, verified, report)
	if err != nil {
		return nil, err
	}

	if err := rc.Checkpoint(ctx); err != nil {
		return nil, err
	}
	rc.Progress(90, fmt.Sprintf("Saving %d contacts...", len(contacts)))
	saved, err := w.saveContacts(ctx, rc, contacts)
	if err != nil {
		// the write failed; the run still reports what it found
		saved = contacts
	}
	metrics.ContactsGenerated = len(saved)
	report.Contacts = saved
	result := &Result{
		Metrics:  metrics,
		Summary:  fmt.Sprintf("Completed! Generated %d new leads from %d companies", len(saved), productive),
		Artifact: report,
	}
	return result, err
}

func (w *LeadGenWorker) loadConfig(ctx context.Context) (*model.LeadGenConfig, error) {
	cfg, err := w.deps.Store.LeadGenConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewConfigurationError("Lead generation configuration not found. Please configure your API keys.")
	}
	if err != nil {
		return nil, fmt.Errorf("load lead generation config: %w", err)
	}
	if err := ValidateLeadGenConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxCompanies <= 0 {
		cfg.MaxCompanies = model.DefaultMaxCompanies
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = model.DefaultOpenAIModel
	}
	return cfg, nil
}

// ValidateLeadGenConfig rejects missing, masked or malformed credentials
func ValidateLeadGenConfig(cfg *model.LeadGenConfig) error {
	openAIKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	apolloKey := strings.TrimSpace(cfg.ApolloAPIKey)

	switch {
	case openAIKey == "" || apolloKey == "":
		return NewConfigurationError("OpenAI and Apollo API keys are required")
	case model.IsMasked(openAIKey):
		return NewConfigurationError("API key appears to be masked. Please re-enter your actual OpenAI API key.")
	case model.IsMasked(apolloKey):
		return NewConfigurationError("Apollo API key appears to be masked. Please re-enter your actual Apollo API key.")
	case !strings.HasPrefix(openAIKey, "sk-"):
		return NewConfigurationError(`Invalid OpenAI API key format. API key should start with "sk-".`)
	case len(openAIKey) < minOpenAIKeyLength:
		return NewConfigurationError("OpenAI API key appears to be incomplete.")
	}

	cfg.OpenAIAPIKey = openAIKey
	cfg.ApolloAPIKey = apolloKey
	return nil
}

func (w *LeadGenWorker) buildBlacklist(ctx context.Context) (*matcher.Blacklist, error) {
	companies, err := w.deps.Store.ContactCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load contact companies: %w", err)
	}
	customers, err := w.deps.Store.ScrapedCustomerNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scraped customers: %w", err)
	}
	return matcher.NewBlacklist(matcher.DefaultExclusions, companies, customers), nil
}

func (w *LeadGenWorker) generateCompanies(ctx context.Context, rc *RunContext, cfg *model.LeadGenConfig,
	generator client.CompanyGenerator, blacklist *matcher.Blacklist, report *LeadGenReport) ([]model.Company, error) {

	rc.Progress(10, "Generating companies with OpenAI...")
	target := cfg.MaxCompanies + extraCompanies
	csv, err := Retry(ctx, rc.Retry, "OpenAI Company Generation", func(ctx context.Context) (string, error) {
		out, err := generator.GenerateCompanies(ctx, target)
		return out, classifyOpenAIError(err)
	})
	if err != nil {
		return nil, err
	}

	companies := ParseCompanyCSV(csv)
	rc.Progress(25, fmt.Sprintf("Parsed %d companies from OpenAI", len(companies)))
	if len(companies) == 0 {
		return nil, errors.New("no valid companies parsed from OpenAI response")
	}
	report.Generated = companies

	kept, excluded := blacklist.Filter(companies)
	report.Excluded = excluded
	rc.Progress(30, fmt.Sprintf("After blacklist filter: %d companies", len(kept)))

	rc.Progress(35, "Verifying websites...")
	var verified []model.Company
	for i, company := range kept {
		if len(verified) >= cfg.MaxCompanies {
			break
		}
		if err := rc.Checkpoint(ctx); err != nil {
			return nil, err
		}

		if w.verify(ctx, company.Website) {
			verified = append(verified, company)
		} else {
			rc.Logger.Debug().Str("company", company.Name).Str("website", company.Website).Msg("website did not answer")
		}
		rc.Progress(Interpolate(35, 50, i+1, len(kept)), fmt.Sprintf("Verified %d/%d websites", i+1, len(kept)))

		if i < len(kept)-1 && w.deps.VerifySpacing > 0 {
			if err := w.deps.Sleep(ctx, w.deps.VerifySpacing, rc.Signal.Done()); err != nil {
				return nil, err
			}
		}
	}
	report.Verified = verified
	rc.Progress(50, fmt.Sprintf("Verified %d companies", len(verified)))
	return verified, nil
}

func (w *LeadGenWorker) verify(ctx context.Context, website string) bool {
	ctx, cancel := context.WithTimeout(ctx, w.deps.CallTimeout)
	defer cancel()
	return w.deps.Sites.Verify(ctx, website)
}

// collectContacts looks up people for every company. It also returns how many
// companies yielded at least one contact.
func (w *LeadGenWorker) collectContacts(ctx context.Context, rc *RunContext, cfg *model.LeadGenConfig,
	companies []model.Company, report *LeadGenReport) ([]model.Contact, int, error) {

	rc.Progress(55, "Searching for contacts...")
	directory := w.deps.NewDirectory(cfg)

	var (
		contacts   []model.Contact
		productive int
	)
	for i, company := range companies {
		if err := rc.Checkpoint(ctx); err != nil {
			return nil, 0, err
		}
		rc.Progress(Interpolate(55, 90, i, len(companies)),
			fmt.Sprintf("Processing company %d/%d: %s", i+1, len(companies), company.Name))

		found, err := w.companyContacts(ctx, rc, directory, company)
		if err != nil {
			var authErr *AuthenticationError
			if IsCancelled(err) || errors.As(err, &authErr) {
				return nil, 0, err
			}
			itemErr := &ItemError{Item: company.Name, Err: err}
			rc.Logger.Warn().Err(itemErr).Msg("skipping company")
			report.Skipped = append(report.Skipped, company.Name)
			continue
		}
		if len(found) > 0 {
			productive++
		}
		contacts = append(contacts, found...)
		rc.RecordMetrics(ctx, model.SessionMetrics{
			CompaniesGenerated: len(companies),
			ContactsGenerated:  len(contacts),
		})
	}
	return contacts, productive, nil
}

func (w *LeadGenWorker) companyContacts(ctx context.Context, rc *RunContext, directory client.ContactDirectory, company model.Company) ([]model.Contact, error) {
	orgs, err := Retry(ctx, rc.Retry, "Apollo organization search for "+company.Name, func(ctx context.Context) ([]model.Organization, error) {
		out, err := directory.SearchOrganizations(ctx, company.Name)
		return out, classifyApolloError(err)
	})
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		rc.Logger.Debug().Str("company", company.Name).Msg("no organizations found")
		return nil, nil
	}

	candidates := make([]matcher.Candidate, len(orgs))
	for i, o := range orgs {
		candidates[i] = matcher.Candidate{Name: o.Name, Website: o.Website()}
	}
	match, ok := matcher.BestMatch(company.Name, company.Website, candidates)
	if !ok {
		rc.Logger.Debug().Str("company", company.Name).Msg("no organization matched closely enough")
		return nil, nil
	}
	org := orgs[match.Index]
	rc.Logger.Debug().Str("company", company.Name).Str("organization", org.Name).Int("score", match.Score).Msg("organization matched")

	people, err := Retry(ctx, rc.Retry, "Apollo people search for "+org.Name, func(ctx context.Context) ([]model.Person, error) {
		out, err := directory.SearchPeople(ctx, org.ID, TargetTitles)
		return out, classifyApolloError(err)
	})
	if err != nil {
		return nil, err
	}

	website := org.Website()
	if website == "" {
		website = company.Website
	}
	return PeopleToContacts(people, org.Name, website, time.Now()), nil
}

// PeopleToContacts keeps US-based people with a first name and blanks locked fields
func PeopleToContacts(people []model.Person, company, website string, today time.Time) []model.Contact {
	var contacts []model.Contact
	for _, p := range people {
		if strings.TrimSpace(p.FirstName) == "" {
			continue
		}
		if !isUnitedStates(p.Country) {
			continue
		}

		email := p.Email
		if strings.Contains(email, "email_not_unlocked") {
			email = ""
		}
		phone := p.Phone
		if phone == "" {
			phone = p.PhoneNumber
		}
		if strings.Contains(phone, "phone_not_unlocked") {
			phone = ""
		}

		contacts = append(contacts, model.Contact{
			Name:             p.Name,
			Company:          company,
			Position:         p.Title,
			Email:            email,
			Phone:            phone,
			LinkedIn:         p.LinkedInURL,
			Notes:            "Generated via Apollo API from " + website,
			Source:           model.SourceApolloLeadGen,
			NextContactDate:  today,
			ContactFrequency: model.DefaultContactFrequency,
		})
	}
	return contacts
}

func isUnitedStates(country string) bool {
	switch strings.ToLower(strings.TrimSpace(country)) {
	case "", "united states", "usa", "us":
		return true
	}
	return false
}

func (w *LeadGenWorker) saveContacts(ctx context.Context, rc *RunContext, contacts []model.Contact) ([]model.Contact, error) {
	if len(contacts) == 0 {
		return nil, nil
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.deps.CallTimeout)
	defer cancel()
	saved, err := w.deps.Store.InsertContacts(writeCtx, contacts)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}

	for _, c := range saved {
		a := model.Activity{
			ContactID:   c.ID,
			Type:        model.ActivityTypeContactCreate,
			Description: fmt.Sprintf(contactCreatedMessage, c.Name),
			Metadata: map[string]string{
				"source":  model.SourceApolloLeadGen,
				"company": c.Company,
			},
		}
		if err := w.deps.Activities.RecordActivity(writeCtx, a); err != nil {
			rc.Logger.Warn().Err(err).Int64("contact_id", c.ID).Msg("failed to record contact activity")
		}
	}
	return saved, nil
}

// ParseCompanyCSV reads company_name,company_website lines. The website is
// taken after the last comma so names may contain commas.
func ParseCompanyCSV(text string) []model.Company {
	var companies []model.Company
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "company_name") {
			continue
		}

		i := strings.LastIndex(line, ",")
		if i < 0 {
			continue
		}
		name := strings.Trim(strings.TrimSpace(line[:i]), `"`)
		website := strings.Trim(strings.TrimSpace(line[i+1:]), `"`)
		if len(name) > 1 && website != "" {
			companies = append(companies, model.Company{Name: name, Website: website})
		}
	}
	return companies
}

func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.QuotaExceeded():
			return &AuthenticationError{Service: "OpenAI", Err: fmt.Errorf("quota exceeded or billing issue: %w", err)}
		case apiErr.Unauthorized():
			return &AuthenticationError{Service: "OpenAI", Err: err}
		case apiErr.BadRequest():
			return &RequestRejectedError{Service: "OpenAI", Err: err}
		}
	}
	return &TransientError{Op: "OpenAI", Err: err}
}

func classifyApolloError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Unauthorized() {
		return &AuthenticationError{Service: "Apollo", Err: err}
	}
	return &TransientError{Op: "Apollo", Err: err}
}

var _ Runner = (*LeadGenWorker)(nil)
