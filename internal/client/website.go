package client

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SiteChecker reports whether a website answers.
type SiteChecker interface {
	Verify(ctx context.Context, website string) bool
}

// WebsiteVerifier probes a site with a HEAD request and follows redirects
type WebsiteVerifier struct {
	httpClient *http.Client
}

func NewWebsiteVerifier(timeout time.Duration) *WebsiteVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebsiteVerifier{httpClient: &http.Client{Timeout: timeout}}
}

// Verify is true for any 2xx or 3xx final status
func (v *WebsiteVerifier) Verify(ctx context.Context, website string) bool {
	website = strings.TrimSpace(website)
	if website == "" {
		return false
	}
	if !strings.HasPrefix(website, "http://") && !strings.HasPrefix(website, "https://") {
		website = "https://" + website
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, website, nil)
	if err != nil {
		return false
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

var _ SiteChecker = (*WebsiteVerifier)(nil)
