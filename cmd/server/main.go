package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/fieldcrm/crm-jobs/internal/auth"
	"github.com/fieldcrm/crm-jobs/internal/config"
	"github.com/fieldcrm/crm-jobs/internal/logging"
	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/store"
)

var version = "dev"

func main() {
	if err := app().Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("application failed")
	}
}

func app() *cli.Command {
	return &cli.Command{
		Name:    "crm-jobs",
		Version: version,
		Usage:   "Background scraper and lead generation jobs for the CRM",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "memory",
				Usage:   "Keep all state in memory instead of PostgreSQL",
				Sources: cli.EnvVars("CRM_JOBS_MEMORY_STORE"),
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP control surface, scheduler and activity worker",
				Action: serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations",
				Action: migrateAction,
			},
			{
				Name:      "run",
				Usage:     "Run one job in the foreground; Ctrl-C cancels it",
				ArgsUsage: "scraper|leadgen",
				Action:    runAction,
			},
			{
				Name:  "token",
				Usage: "Print an HMAC operator token signed with JWT_SECRET",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Value: "operator", Usage: "Operator id"},
					&cli.StringFlag{Name: "email", Usage: "Operator email"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "Token lifetime"},
				},
				Action: tokenAction,
			},
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Configure(cfg.Server.LogLevel, cfg.Server.Env)
	return cfg, nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return serve(ctx, cfg, cmd.Bool("memory"))
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is required (set DATABASE_URL)")
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info().Msg("migrations applied")
	return nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	jobType, err := model.ParseJobType(cmd.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("usage: crm-jobs run scraper|leadgen (%v)", err), 2)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return runOnce(ctx, cfg, cmd.Bool("memory"), jobType)
}

func tokenAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token, err := auth.GenerateLegacyToken(cfg.JWT.Secret, cmd.String("user"), cmd.String("email"), cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
