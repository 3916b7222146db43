package service

import (
	"time"

	"github.com/fieldcrm/crm-jobs/internal/client"
	"github.com/fieldcrm/crm-jobs/internal/config"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
	"github.com/fieldcrm/crm-jobs/internal/worker"
)

const websiteCheckTimeout = 10 * time.Second

// NewRunners builds the production runner of each job type. API clients are
// created per run from the stored job configuration.
func NewRunners(cfg *config.Config, st store.Store, activities worker.ActivityRecorder) map[model.JobType]RunnerFactory {
	sites := client.NewWebsiteVerifier(websiteCheckTimeout)
	callTimeout := cfg.Jobs.CallTimeout

	return map[model.JobType]RunnerFactory{
		model.JobTypeLeadGen: func() worker.Runner {
			return worker.NewLeadGenWorker(worker.LeadGenDeps{
				Store:      st,
				Activities: activities,
				Sites:      sites,
				NewGenerator: func(lc *model.LeadGenConfig) client.CompanyGenerator {
					return client.NewOpenAIClient(lc.OpenAIAPIKey, lc.OpenAIModel, &cfg.OpenAI)
				},
				NewDirectory: func(lc *model.LeadGenConfig) client.ContactDirectory {
					delay := time.Duration(lc.RequestDelay * float64(time.Second))
					return client.NewApolloClient(lc.ApolloAPIKey, &cfg.Apollo, delay, callTimeout)
				},
				CallTimeout: callTimeout,
			})
		},
		model.JobTypeScraper: func() worker.Runner {
			return worker.NewScraperWorker(worker.ScraperDeps{
				Store: st,
				NewPortal: func(sc *model.ScraperConfig) client.CustomerPortal {
					return client.NewChromeBrowser(client.BrowserOptions{
						Headless:   sc.Headless,
						Timeout:    time.Duration(sc.Timeout) * time.Second,
						ChromePath: cfg.Scraper.ChromePath,
					})
				},
				CallTimeout: callTimeout,
			})
		},
	}
}

// RetryConfig maps process settings onto the retry executor
func RetryConfig(cfg *config.JobsConfig) worker.RetryConfig {
	return worker.RetryConfig{
		BaseDelay:   cfg.RetryBaseDelay,
		MaxAttempts: cfg.MaxAttempts,
	}
}
