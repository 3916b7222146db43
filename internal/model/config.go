package model

import "strings"

// SecretMask replaces stored secrets in config responses
const SecretMask = "••••••••"

// IsMasked reports whether a credential is a placeholder rather than a real value
func IsMasked(v string) bool {
	return strings.Contains(v, "•") || strings.Contains(v, "*")
}

// MaskSecret hides a non-empty secret
func MaskSecret(v string) string {
	if v == "" {
		return ""
	}
	return SecretMask
}

// LeadGenConfig is the stored lead generation configuration
type LeadGenConfig struct {
	OpenAIAPIKey string  `json:"openai_api_key"`
	OpenAIModel  string  `json:"openai_model"`
	ApolloAPIKey string  `json:"apollo_api_key"`
	MaxCompanies int     `json:"max_companies"`
	RequestDelay float64 `json:"request_delay"`
}

// Lead generation defaults
const (
	DefaultOpenAIModel  = "gpt-4"
	DefaultMaxCompanies = 50
	DefaultRequestDelay = 1.2
)

// DefaultLeadGenConfig is returned when nothing has been saved yet
func DefaultLeadGenConfig() *LeadGenConfig {
	return &LeadGenConfig{
		OpenAIModel:  DefaultOpenAIModel,
		MaxCompanies: DefaultMaxCompanies,
		RequestDelay: DefaultRequestDelay,
	}
}

// Masked returns a copy safe to send to clients
func (c LeadGenConfig) Masked() LeadGenConfig {
	c.OpenAIAPIKey = MaskSecret(c.OpenAIAPIKey)
	c.ApolloAPIKey = MaskSecret(c.ApolloAPIKey)
	return c
}

// ScraperConfig is the stored customer scraper configuration
type ScraperConfig struct {
	LoginURL     string `json:"login_url"`
	CustomersURL string `json:"customers_url"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Headless     bool   `json:"headless"`
	Timeout      int    `json:"timeout"` // seconds
	MaxCustomers int    `json:"max_customers"`
}

// Masked returns a copy safe to send to clients
func (c ScraperConfig) Masked() ScraperConfig {
	c.Password = MaskSecret(c.Password)
	return c
}

// ResolvedCustomersURL falls back to the login URL with /login swapped for /customers
func (c ScraperConfig) ResolvedCustomersURL() string {
	if c.CustomersURL != "" {
		return c.CustomersURL
	}
	return strings.Replace(c.LoginURL, "/login", "/customers", 1)
}

// LeadGenConfigRequest is the body of POST /jobs/leadgen/config
type LeadGenConfigRequest struct {
	OpenAIAPIKey string  `json:"openai_api_key" validate:"required"`
	OpenAIModel  string  `json:"openai_model" validate:"omitempty,max=64"`
	ApolloAPIKey string  `json:"apollo_api_key" validate:"required"`
	MaxCompanies int     `json:"max_companies" validate:"omitempty,min=1,max=500"`
	RequestDelay float64 `json:"request_delay" validate:"omitempty,min=0,max=60"`
}

// ScraperConfigRequest is the body of POST /jobs/scraper/config
type ScraperConfigRequest struct {
	LoginURL     string `json:"login_url" validate:"required,url"`
	CustomersURL string `json:"customers_url" validate:"omitempty,url"`
	Username     string `json:"username" validate:"required"`
	Password     string `json:"password" validate:"required"`
	Headless     *bool  `json:"headless"`
	Timeout      int    `json:"timeout" validate:"omitempty,min=1,max=300"`
	MaxCustomers int    `json:"max_customers" validate:"omitempty,min=0"`
}
