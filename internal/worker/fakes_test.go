package worker

import (
	"context"
	"sync"
	"time"

	"github.com/fieldcrm/crm-jobs/internal/client"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
)

func noSleep(ctx context.Context, d time.Duration, cancel <-chan struct{}) error {
	select {
	case <-cancel:
		return ErrCancelled
	default:
		return nil
	}
}

type fakeGenerator struct {
	probeErrs []error
	csv       string
	genErr    error
	probes    int
}

func (g *fakeGenerator) Probe(ctx context.Context) error {
	g.probes++
	if len(g.probeErrs) == 0 {
		return nil
	}
	err := g.probeErrs[0]
	g.probeErrs = g.probeErrs[1:]
	return err
}

func (g *fakeGenerator) GenerateCompanies(ctx context.Context, count int) (string, error) {
	return g.csv, g.genErr
}

type fakeDirectory struct {
	orgs      map[string][]model.Organization
	people    map[string][]model.Person
	orgErr    error
	onOrgCall func(name string)
}

func (d *fakeDirectory) SearchOrganizations(ctx context.Context, name string) ([]model.Organization, error) {
	if d.onOrgCall != nil {
		d.onOrgCall(name)
	}
	if d.orgErr != nil {
		return nil, d.orgErr
	}
	return d.orgs[name], nil
}

func (d *fakeDirectory) SearchPeople(ctx context.Context, organizationID string, titles []string) ([]model.Person, error) {
	return d.people[organizationID], nil
}

type fakeSites map[string]bool

func (s fakeSites) Verify(ctx context.Context, website string) bool { return s[website] }

type fakePortal struct {
	mu        sync.Mutex
	pages     []string
	page      int
	loginErr  error
	launched  bool
	closed    bool
	onPage    func(page int)
	launchErr error
	tableErrs []error
	tableHits int
}

func (p *fakePortal) Launch(ctx context.Context) error {
	p.launched = true
	return p.launchErr
}

func (p *fakePortal) Login(ctx context.Context, loginURL, username, password string) error {
	return p.loginErr
}

func (p *fakePortal) OpenCustomers(ctx context.Context, customersURL string) error { return nil }

func (p *fakePortal) ShowAll(ctx context.Context) (bool, error) { return false, nil }

func (p *fakePortal) TableHTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tableHits++
	if p.onPage != nil {
		p.onPage(p.page)
	}
	if len(p.tableErrs) > 0 {
		err := p.tableErrs[0]
		p.tableErrs = p.tableErrs[1:]
		return "", err
	}
	if p.page >= len(p.pages) {
		return "", nil
	}
	return p.pages[p.page], nil
}

func (p *fakePortal) NextPage(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.page+1 >= len(p.pages) {
		return false, nil
	}
	p.page++
	return true, nil
}

func (p *fakePortal) Close() { p.closed = true }

// failingContacts is a memory store whose contact insert always fails
type failingContacts struct {
	*store.Memory
	err error
}

func (f failingContacts) InsertContacts(context.Context, []model.Contact) ([]model.Contact, error) {
	return nil, f.err
}

// failingCustomers is a memory store whose customer replace always fails
type failingCustomers struct {
	*store.Memory
	err error
}

func (f failingCustomers) ReplaceScrapedCustomers(context.Context, string, []string) (int, error) {
	return 0, f.err
}

var (
	_ LeadGenStore            = failingContacts{}
	_ ScraperStore            = failingCustomers{}
	_ client.CompanyGenerator = (*fakeGenerator)(nil)
	_ client.ContactDirectory = (*fakeDirectory)(nil)
	_ client.SiteChecker      = fakeSites(nil)
	_ client.CustomerPortal   = (*fakePortal)(nil)
)
