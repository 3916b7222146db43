package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldcrm/crm-jobs/internal/client"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
)

const (
	maxScrapePages        = 100
	maxConsecutiveEmpties = 3
)

// ScraperStore is the storage the scraper reads from and writes to
type ScraperStore interface {
	ScraperConfig(ctx context.Context) (*model.ScraperConfig, error)
	ReplaceScrapedCustomers(ctx context.Context, batchID string, names []string) (int, error)
}

// ScraperDeps wires the scraper to its collaborators
type ScraperDeps struct {
	Store       ScraperStore
	NewPortal   func(cfg *model.ScraperConfig) client.CustomerPortal
	CallTimeout time.Duration
}

// ScraperReport is the run artifact uploaded after a scrape
type ScraperReport struct {
	Pages      int      `json:"pages"`
	ShowAll    bool     `json:"show_all"`
	Customers  []string `json:"customers"`
	PageErrors []string `json:"page_errors,omitempty"`
}

// ScraperWorker logs into the customer portal and captures the customer list
type ScraperWorker struct {
	deps ScraperDeps
}

func NewScraperWorker(deps ScraperDeps) *ScraperWorker {
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = 30 * time.Second
	}
	return &ScraperWorker{deps: deps}
}

// Run executes one scrape. The browser is always closed before returning.
func (w *ScraperWorker) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	rc.Progress(5, "Initializing scraper...")
	cfg, err := w.loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if err := rc.Checkpoint(ctx); err != nil {
		return nil, err
	}
	rc.Progress(10, "Launching browser...")
	portal := w.deps.NewPortal(cfg)
	defer portal.Close()

	if err := rc.Retry.Do(ctx, "Browser launch", portal.Launch); err != nil {
		return nil, err
	}
	rc.Progress(20, "Browser ready")

	if err := rc.Checkpoint(ctx); err != nil {
		return nil, err
	}
	rc.Progress(30, "Navigating to login page...")
	err = rc.Retry.Do(ctx, "Portal login", func(ctx context.Context) error {
		err := portal.Login(ctx, cfg.LoginURL, cfg.Username, cfg.Password)
		if errors.Is(err, client.ErrLoginRejected) {
			return &AuthenticationError{Service: "Customer portal", Err: err}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	rc.Progress(60, "Login successful")

	if err := rc.Checkpoint(ctx); err != nil {
		return nil, err
	}
	rc.Progress(70, "Navigating to customers page...")
	customersURL := cfg.ResolvedCustomersURL()
	if err := rc.Retry.Do(ctx, "Open customer list", func(ctx context.Context) error {
		return portal.OpenCustomers(ctx, customersURL)
	}); err != nil {
		return nil, err
	}
	rc.Progress(75, "Customer table ready")

	report := &ScraperReport{}
	rc.Progress(80, "Configuring table display...")
	showAll, err := portal.ShowAll(ctx)
	if err != nil {
		rc.Logger.Warn().Err(err).Msg("could not change entries per page, will paginate")
	}
	report.ShowAll = showAll

	names, err := w.extract(ctx, rc, cfg, portal, report)
	if err != nil {
		return nil, err
	}
	report.Customers = names
	metrics := model.SessionMetrics{CustomersScraped: len(names), PagesVisited: report.Pages}
	rc.RecordMetrics(ctx, metrics)

	rc.Progress(95, fmt.Sprintf("Saving %d customers...", len(names)))
	if len(names) == 0 {
		return &Result{Metrics: metrics, Artifact: report},
			errors.New("no customers found, please check the table structure and selectors")
	}
	if err := rc.Checkpoint(ctx); err != nil {
		return nil, err
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.deps.CallTimeout)
	defer cancel()
	saved, err := w.deps.Store.ReplaceScrapedCustomers(writeCtx, rc.SessionID, names)
	result := &Result{
		Metrics:  metrics,
		Summary:  fmt.Sprintf("Successfully scraped %d customers", saved),
		Artifact: report,
	}
	if err != nil {
		return result, &PersistenceError{Err: err}
	}
	return result, nil
}

func (w *ScraperWorker) loadConfig(ctx context.Context) (*model.ScraperConfig, error) {
	cfg, err := w.deps.Store.ScraperConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewConfigurationError("No scraper configuration found")
	}
	if err != nil {
		return nil, fmt.Errorf("load scraper config: %w", err)
	}
	if err := ValidateScraperConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateScraperConfig rejects incomplete or masked portal credentials
func ValidateScraperConfig(cfg *model.ScraperConfig) error {
	switch {
	case strings.TrimSpace(cfg.LoginURL) == "":
		return NewConfigurationError("Scraper login URL is required")
	case strings.TrimSpace(cfg.Username) == "" || cfg.Password == "":
		return NewConfigurationError("Scraper username and password are required")
	case model.IsMasked(cfg.Password):
		return NewConfigurationError("Scraper password appears to be masked. Please re-enter your actual password.")
	}
	return nil
}

// extract walks the table pages until the last page, three empty pages in a
// row, the page limit or the customer limit.
func (w *ScraperWorker) extract(ctx context.Context, rc *RunContext, cfg *model.ScraperConfig,
	portal client.CustomerPortal, report *ScraperReport) ([]string, error) {

	rc.Progress(85, "Extracting customer data...")
	var (
		names   []string
		seen    = make(map[string]struct{})
		empties int
	)

	for page := 1; page <= maxScrapePages; page++ {
		if err := rc.Checkpoint(ctx); err != nil {
			return nil, err
		}
		rc.Progress(85+min(10, page), fmt.Sprintf("Processing page %d...", page))
		report.Pages = page

		found, err := Retry(ctx, rc.Retry, fmt.Sprintf("Extract page %d", page), func(ctx context.Context) ([]string, error) {
			return w.readPage(ctx, portal)
		})
		if IsCancelled(err) {
			return nil, err
		}
		if err != nil {
			itemErr := &ItemError{Item: fmt.Sprintf("page %d", page), Err: err}
			rc.Logger.Warn().Err(itemErr).Msg("skipping page")
			report.PageErrors = append(report.PageErrors, itemErr.Error())
		}

		for _, name := range found {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
		rc.Logger.Debug().Int("page", page).Int("found", len(found)).Int("total", len(names)).Msg("page extracted")

		if len(found) == 0 {
			empties++
		} else {
			empties = 0
		}

		if cfg.MaxCustomers > 0 && len(names) >= cfg.MaxCustomers {
			names = names[:cfg.MaxCustomers]
			break
		}
		if empties >= maxConsecutiveEmpties {
			break
		}

		next, err := portal.NextPage(ctx)
		if err != nil {
			rc.Logger.Warn().Err(err).Int("page", page).Msg("next page lookup failed")
			break
		}
		if !next {
			break
		}
	}

	rc.Progress(95, "Extraction complete")
	return names, nil
}

func (w *ScraperWorker) readPage(ctx context.Context, portal client.CustomerPortal) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.deps.CallTimeout)
	defer cancel()
	html, err := portal.TableHTML(ctx)
	if err != nil {
		return nil, err
	}
	return client.ParseCustomerNames(html)
}

var _ Runner = (*ScraperWorker)(nil)
