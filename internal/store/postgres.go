package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect creates a connection pool to PostgreSQL.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Close() { s.pool.Close() }

const sessionColumns = `id::text, job_type, status, progress, message, metrics, error, created_at, completed_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		sess    model.Session
		metrics []byte
	)
	err := row.Scan(&sess.ID, &sess.JobType, &sess.Status, &sess.Progress, &sess.Message,
		&metrics, &sess.Error, &sess.CreatedAt, &sess.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &sess.Metrics); err != nil {
			return nil, fmt.Errorf("decode session metrics: %w", err)
		}
	}
	return &sess, nil
}

func (s *Postgres) CreateSession(ctx context.Context, jobType model.JobType) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO job_sessions (id, job_type, status, message)
		VALUES ($1, $2, 'running', 'Started')
		RETURNING `+sessionColumns,
		uuid.NewString(), jobType)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *Postgres) UpdateSessionProgress(ctx context.Context, id string, p model.Progress) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_sessions SET progress = $2, message = $3
		WHERE id = $1 AND status = 'running'`,
		id, p.Percentage, p.Message)
	if err != nil {
		return fmt.Errorf("update session progress: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateSessionMetrics(ctx context.Context, id string, m model.SessionMetrics) error {
	metrics, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE job_sessions SET metrics = $2
		WHERE id = $1 AND status = 'running'`,
		id, metrics)
	if err != nil {
		return fmt.Errorf("update session metrics: %w", err)
	}
	return nil
}

// FinishSession writes the terminal state. Only a running session moves, so
// a second call returns ErrSessionClosed and leaves the row untouched.
func (s *Postgres) FinishSession(ctx context.Context, id string, f model.SessionFinish) (*model.Session, error) {
	if !f.Status.IsTerminal() {
		return nil, fmt.Errorf("finish session: %q is not a terminal status", f.Status)
	}
	metrics, err := json.Marshal(f.Metrics)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE job_sessions
		SET status = $2, progress = $3, message = $4, metrics = $5,
		    error = NULLIF($6, ''), completed_at = NOW()
		WHERE id = $1 AND status = 'running'
		RETURNING `+sessionColumns,
		id, f.Status, f.Progress, f.Message, metrics, f.Error)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetSession(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrSessionClosed
	}
	if err != nil {
		return nil, fmt.Errorf("finish session: %w", err)
	}
	return sess, nil
}

func (s *Postgres) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM job_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Postgres) RecentSessions(ctx context.Context, jobType model.JobType, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM job_sessions
		 WHERE job_type = $1 ORDER BY created_at DESC LIMIT $2`,
		jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.Session, 0, limit)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *Postgres) LeadGenConfig(ctx context.Context) (*model.LeadGenConfig, error) {
	var cfg model.LeadGenConfig
	err := s.pool.QueryRow(ctx, `
		SELECT openai_api_key, openai_model, apollo_api_key, max_companies, request_delay
		FROM leadgen_config WHERE id = 1`).
		Scan(&cfg.OpenAIAPIKey, &cfg.OpenAIModel, &cfg.ApolloAPIKey, &cfg.MaxCompanies, &cfg.RequestDelay)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load leadgen config: %w", err)
	}
	return &cfg, nil
}

func (s *Postgres) SaveLeadGenConfig(ctx context.Context, cfg *model.LeadGenConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leadgen_config (id, openai_api_key, openai_model, apollo_api_key, max_companies, request_delay)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			openai_api_key = EXCLUDED.openai_api_key,
			openai_model   = EXCLUDED.openai_model,
			apollo_api_key = EXCLUDED.apollo_api_key,
			max_companies  = EXCLUDED.max_companies,
			request_delay  = EXCLUDED.request_delay,
			updated_at     = NOW()`,
		cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.ApolloAPIKey, cfg.MaxCompanies, cfg.RequestDelay)
	if err != nil {
		return fmt.Errorf("save leadgen config: %w", err)
	}
	return nil
}

func (s *Postgres) ScraperConfig(ctx context.Context) (*model.ScraperConfig, error) {
	var cfg model.ScraperConfig
	err := s.pool.QueryRow(ctx, `
		SELECT login_url, customers_url, username, password, headless, timeout, max_customers
		FROM scraper_config WHERE id = 1`).
		Scan(&cfg.LoginURL, &cfg.CustomersURL, &cfg.Username, &cfg.Password, &cfg.Headless, &cfg.Timeout, &cfg.MaxCustomers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load scraper config: %w", err)
	}
	return &cfg, nil
}

func (s *Postgres) SaveScraperConfig(ctx context.Context, cfg *model.ScraperConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraper_config (id, login_url, customers_url, username, password, headless, timeout, max_customers)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			login_url     = EXCLUDED.login_url,
			customers_url = EXCLUDED.customers_url,
			username      = EXCLUDED.username,
			password      = EXCLUDED.password,
			headless      = EXCLUDED.headless,
			timeout       = EXCLUDED.timeout,
			max_customers = EXCLUDED.max_customers,
			updated_at    = NOW()`,
		cfg.LoginURL, cfg.CustomersURL, cfg.Username, cfg.Password, cfg.Headless, cfg.Timeout, cfg.MaxCustomers)
	if err != nil {
		return fmt.Errorf("save scraper config: %w", err)
	}
	return nil
}

func (s *Postgres) ContactCompanies(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT company FROM contacts WHERE company <> ''`)
}

// InsertContacts writes all contacts in one transaction and returns them with ids.
func (s *Postgres) InsertContacts(ctx context.Context, contacts []model.Contact) ([]model.Contact, error) {
	if len(contacts) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin insert contacts: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, c := range contacts {
		batch.Queue(`
			INSERT INTO contacts (name, company, email, phone, linkedin, position, next_contact_date,
			                      contact_frequency, notes, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			c.Name, c.Company, c.Email, c.Phone, c.LinkedIn, c.Position, c.NextContactDate,
			c.ContactFrequency, c.Notes, c.Source)
	}

	br := tx.SendBatch(ctx, batch)
	saved := make([]model.Contact, len(contacts))
	copy(saved, contacts)
	for i := range saved {
		if err := br.QueryRow().Scan(&saved[i].ID); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("insert contact %q: %w", saved[i].Name, err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("insert contacts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit contacts: %w", err)
	}
	return saved, nil
}

func (s *Postgres) RecordActivity(ctx context.Context, a model.Activity) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO activities (contact_id, type, description, metadata)
		VALUES ($1, $2, $3, $4)`,
		a.ContactID, a.Type, a.Description, metadata)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (s *Postgres) ScrapedCustomerNames(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT name FROM scraped_customers`)
}

// ReplaceScrapedCustomers swaps the whole customer list in one transaction.
func (s *Postgres) ReplaceScrapedCustomers(ctx context.Context, batchID string, names []string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin replace customers: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM scraped_customers`); err != nil {
		return 0, fmt.Errorf("clear customers: %w", err)
	}

	now := time.Now()
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"scraped_customers"},
		[]string{"name", "source", "scrape_session_id", "scraped_at"},
		pgx.CopyFromSlice(len(names), func(i int) ([]any, error) {
			return []any{names[i], model.SourcePrecisionExpedited, batchID, now}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy customers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit customers: %w", err)
	}
	return int(n), nil
}

func (s *Postgres) CountScrapedCustomers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scraped_customers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count customers: %w", err)
	}
	return n, nil
}

func (s *Postgres) strings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

var _ Store = (*Postgres)(nil)
