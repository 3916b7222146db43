package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/fieldcrm/crm-jobs/internal/config"
	"github.com/fieldcrm/crm-jobs/internal/model"
)

const apolloPageSize = 25

// ContactDirectory finds organizations and their people.
type ContactDirectory interface {
	SearchOrganizations(ctx context.Context, name string) ([]model.Organization, error)
	SearchPeople(ctx context.Context, organizationID string, titles []string) ([]model.Person, error)
}

// ApolloClient talks to the Apollo search API. Every request waits on a
// shared limiter so calls are spaced by the configured request delay.
type ApolloClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

type organizationSearchRequest struct {
	Name    string `json:"q_organization_name"`
	PerPage int    `json:"per_page"`
	Page    int    `json:"page"`
}

type organizationSearchResponse struct {
	Organizations []model.Organization `json:"organizations"`
	Companies     []model.Organization `json:"companies"`
}

type peopleSearchResponse struct {
	People []model.Person `json:"people"`
}

// NewApolloClient creates a client. requestDelay <= 0 disables spacing.
func NewApolloClient(apiKey string, cfg *config.ApolloConfig, requestDelay, timeout time.Duration) *ApolloClient {
	limit := rate.Inf
	if requestDelay > 0 {
		limit = rate.Every(requestDelay)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ApolloClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// SearchOrganizations looks organizations up by name
func (c *ApolloClient) SearchOrganizations(ctx context.Context, name string) ([]model.Organization, error) {
	body, err := json.Marshal(organizationSearchRequest{Name: name, PerPage: apolloPageSize, Page: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp organizationSearchResponse
	if err := c.post(ctx, c.baseURL+"/mixed_companies/search", body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Organizations) > 0 {
		return resp.Organizations, nil
	}
	return resp.Companies, nil
}

// SearchPeople lists US-based people of an organization holding one of titles
func (c *ApolloClient) SearchPeople(ctx context.Context, organizationID string, titles []string) ([]model.Person, error) {
	q := url.Values{}
	q.Add("organization_ids[]", organizationID)
	for _, t := range titles {
		q.Add("person_titles[]", t)
	}
	q.Add("person_locations[]", "United States")
	q.Set("per_page", fmt.Sprint(apolloPageSize))
	q.Set("page", "1")

	var resp peopleSearchResponse
	if err := c.post(ctx, c.baseURL+"/mixed_people/search?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.People, nil
}

func (c *ApolloClient) post(ctx context.Context, endpoint string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Service: "Apollo", StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

var _ ContactDirectory = (*ApolloClient)(nil)
