package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fieldcrm/crm-jobs/internal/config"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
)

// InvalidConfigError is a config save rejected for its content
type InvalidConfigError struct {
	Message string
}

func (e *InvalidConfigError) Error() string { return e.Message }

// ConfigService reads and writes the stored job configuration
type ConfigService struct {
	store    store.ConfigStore
	defaults config.ScraperConfig
}

// NewConfigService creates the service. defaults are the technical scraper
// settings applied to every saved scraper config.
func NewConfigService(st store.ConfigStore, defaults config.ScraperConfig) *ConfigService {
	return &ConfigService{store: st, defaults: defaults}
}

// LeadGenConfig returns the masked lead generation config, or the defaults
// when nothing has been saved
func (s *ConfigService) LeadGenConfig(ctx context.Context) (*model.LeadGenConfig, error) {
	cfg, err := s.store.LeadGenConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return model.DefaultLeadGenConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load leadgen config: %w", err)
	}
	masked := cfg.Masked()
	return &masked, nil
}

// SaveLeadGenConfig validates and stores the lead generation config
func (s *ConfigService) SaveLeadGenConfig(ctx context.Context, req *model.LeadGenConfigRequest) error {
	if model.IsMasked(req.OpenAIAPIKey) {
		return &InvalidConfigError{Message: "Please enter your actual OpenAI API key. Click the field to enter a new key."}
	}
	if model.IsMasked(req.ApolloAPIKey) {
		return &InvalidConfigError{Message: "Please enter your actual Apollo API key. Click the field to enter a new key."}
	}
	if !strings.HasPrefix(req.OpenAIAPIKey, "sk-") || len(req.OpenAIAPIKey) < 20 {
		return &InvalidConfigError{Message: `Invalid OpenAI API key format. Should start with "sk-" and be at least 20 characters.`}
	}

	cfg := model.DefaultLeadGenConfig()
	cfg.OpenAIAPIKey = strings.TrimSpace(req.OpenAIAPIKey)
	cfg.ApolloAPIKey = strings.TrimSpace(req.ApolloAPIKey)
	if req.OpenAIModel != "" {
		cfg.OpenAIModel = req.OpenAIModel
	}
	if req.MaxCompanies > 0 {
		cfg.MaxCompanies = req.MaxCompanies
	}
	if req.RequestDelay > 0 {
		cfg.RequestDelay = req.RequestDelay
	}

	if err := s.store.SaveLeadGenConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save leadgen config: %w", err)
	}
	return nil
}

// ScraperConfig returns the masked scraper config, or nil when nothing has
// been saved
func (s *ConfigService) ScraperConfig(ctx context.Context) (*model.ScraperConfig, error) {
	cfg, err := s.store.ScraperConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scraper config: %w", err)
	}
	masked := cfg.Masked()
	return &masked, nil
}

// SaveScraperConfig validates and stores the scraper config. Headless mode,
// timeout and customer limit fall back to the process settings.
func (s *ConfigService) SaveScraperConfig(ctx context.Context, req *model.ScraperConfigRequest) error {
	if model.IsMasked(req.Password) {
		return &InvalidConfigError{Message: "Please enter your actual portal password. Click the field to enter a new password."}
	}

	cfg := &model.ScraperConfig{
		LoginURL:     strings.TrimSpace(req.LoginURL),
		CustomersURL: strings.TrimSpace(req.CustomersURL),
		Username:     req.Username,
		Password:     req.Password,
		Headless:     s.defaults.Headless,
		Timeout:      s.defaults.Timeout,
		MaxCustomers: s.defaults.MaxCustomers,
	}
	if req.Headless != nil {
		cfg.Headless = *req.Headless
	}
	if req.Timeout > 0 {
		cfg.Timeout = req.Timeout
	}
	if req.MaxCustomers > 0 {
		cfg.MaxCustomers = req.MaxCustomers
	}

	if err := s.store.SaveScraperConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save scraper config: %w", err)
	}
	return nil
}
