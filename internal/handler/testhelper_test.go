package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/fieldcrm/crm-jobs/internal/auth"
	"github.com/fieldcrm/crm-jobs/internal/config"
	"github.com/fieldcrm/crm-jobs/internal/middleware"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/service"
	"github.com/fieldcrm/crm-jobs/internal/store"
	"github.com/fieldcrm/crm-jobs/internal/worker"
	ws "github.com/fieldcrm/crm-jobs/internal/websocket"
)

const testJWTSecret = "test-secret-for-handlers"

// testApp holds the app and the pieces tests poke at directly
type testApp struct {
	app     *fiber.App
	mem     *store.Memory
	jobs    *service.JobService
	release chan struct{}
}

// gatedRunner holds every run at 50% until release is closed or the run is
// cancelled
func gatedRunner(release <-chan struct{}) service.RunnerFactory {
	return func() worker.Runner {
		return worker.RunnerFunc(func(ctx context.Context, rc *worker.RunContext) (*worker.Result, error) {
			rc.Progress(50, "Processing...")
			select {
			case <-rc.Signal.Done():
				return nil, worker.ErrCancelled
			case <-release:
				return &worker.Result{Summary: "Done"}, nil
			}
		})
	}
}

// setupApp builds the app the way main does, on the in-memory store with
// runners that never leave the process
func setupApp(t *testing.T) *testApp {
	t.Helper()

	mem := store.NewMemory()
	release := make(chan struct{})
	hub := ws.NewHub(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	jobs := service.NewJobService(context.Background(), service.JobServiceDeps{
		Store: mem,
		Runners: map[model.JobType]service.RunnerFactory{
			model.JobTypeLeadGen: gatedRunner(release),
			model.JobTypeScraper: gatedRunner(release),
		},
		Hub:    hub,
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = jobs.Shutdown(shutdownCtx)
		cancel()
	})

	configs := service.NewConfigService(mem, config.ScraperConfig{Headless: true, Timeout: 25})
	authMiddleware := middleware.NewAuthMiddleware(nil, testJWTSecret)

	app := fiber.New()
	Register(app, Routes{
		Jobs:         NewJobHandler(jobs, hub),
		Configs:      NewConfigHandler(configs, validator.New()),
		Health:       NewHealthHandler(HealthDeps{Store: mem, Jobs: jobs, AuthAvailable: true}),
		Auth:         NewAuthHandler(nil, testJWTSecret),
		Protect:      authMiddleware.Authenticate(),
		RateLimiter:  middleware.NewRateLimiter(nil, zerolog.Nop()),
		RunPerHour:   10000,
		ConfigPerMin: 10000,
	})

	return &testApp{app: app, mem: mem, jobs: jobs, release: release}
}

// generateToken creates a legacy HMAC token for test requests
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateLegacyToken(testJWTSecret, "test-operator", "ops@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest performs a request against the test app
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses the response body into a map
func parseJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]any
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseJSONArray parses the response body into a slice
func parseJSONArray(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	body := readBody(t, resp)
	var result []map[string]any
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
