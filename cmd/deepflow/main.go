package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mtlprog/deepflow/internal/classifier"
	"github.com/mtlprog/deepflow/internal/config"
	"github.com/mtlprog/deepflow/internal/database"
	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/handler"
	"github.com/mtlprog/deepflow/internal/logger"
	"github.com/mtlprog/deepflow/internal/metrics"
	"github.com/mtlprog/deepflow/internal/notify"
	"github.com/mtlprog/deepflow/internal/repository"
)

func main() {
	app := &cli.App{
		Name:  "deepflow",
		Usage: "Focus-protecting task queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "Log format (json, text)",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:     "database-url",
				Aliases:  []string{"d"},
				Value:    config.DefaultDatabaseURL,
				Usage:    "PostgreSQL database URL",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML file overriding scoring weights, thresholds and timeouts",
				EnvVars: []string{"DEEPFLOW_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "Optional .env file loaded before flags are read",
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(logger.ParseLevel(c.String("log-level")), c.String("log-format"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the web server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
					&cli.StringFlag{
						Name:    "cors-origins",
						Value:   config.DefaultCORSOrigins,
						Usage:   "Comma-separated allowed CORS origins",
						EnvVars: []string{"CORS_ORIGINS"},
					},
					&cli.StringFlag{
						Name:    "openai-api-key",
						Usage:   "API key for the urgency classifier; empty uses the static fallback",
						EnvVars: []string{"OPENAI_API_KEY"},
					},
					&cli.StringFlag{
						Name:    "openai-base-url",
						Value:   config.DefaultOpenAIBaseURL,
						Usage:   "OpenAI-compatible API root",
						EnvVars: []string{"OPENAI_BASE_URL"},
					},
					&cli.StringFlag{
						Name:    "llm-model",
						Value:   config.DefaultLLMModel,
						Usage:   "Model used to classify messages",
						EnvVars: []string{"LLM_MODEL"},
					},
					&cli.DurationFlag{
						Name:    "classifier-timeout",
						Usage:   "Override the classifier timeout from config",
						EnvVars: []string{"CLASSIFIER_TIMEOUT"},
					},
					&cli.StringFlag{
						Name:    "discord-token",
						Usage:   "Discord bot token for interrupt notifications",
						EnvVars: []string{"DISCORD_TOKEN"},
					},
					&cli.StringFlag{
						Name:    "discord-channel",
						Usage:   "Discord channel ID notifications are posted to",
						EnvVars: []string{"DISCORD_CHANNEL_ID"},
					},
					&cli.BoolFlag{
						Name:    "metrics",
						Value:   true,
						Usage:   "Expose Prometheus metrics on /metrics",
						EnvVars: []string{"METRICS_ENABLED"},
					},
				},
				Action: runServe,
			},
			{
				Name:   "rescore",
				Usage:  "Recalculate priority scores for every queued task",
				Action: runRescore,
			},
			{
				Name:  "user",
				Usage: "Manage API users",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Create a user and print its API token",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Usage: "Display name", Required: true},
						},
						Action: runUserCreate,
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Subcommands: []*cli.Command{
					{Name: "up", Usage: "Apply pending migrations", Action: runMigrateUp},
					{Name: "down", Usage: "Roll back the latest migration", Action: runMigrateDown},
					{Name: "status", Usage: "Print the applied schema version", Action: runMigrateStatus},
				},
			},
		},
		Action: runServe,
	}

	loadEnvFile(os.Args)

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// loadEnvFile loads the .env file (or --env-file) before flag parsing so its
// values feed EnvVars. A missing file is not an error.
func loadEnvFile(args []string) {
	path := ".env"
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--env-file="); ok {
			path = v
		} else if arg == "--env-file" && i+1 < len(args) {
			path = args[i+1]
		}
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", path, err)
	}
}

func loadSettings(c *cli.Context) (config.Settings, error) {
	settings, err := config.Load(c.String("config"))
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

func connect(c *cli.Context) (*database.DB, error) {
	db, err := database.New(c.Context, c.String("database-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func runServe(c *cli.Context) error {
	ctx := c.Context

	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}

	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	if d := c.Duration("classifier-timeout"); d > 0 {
		settings.Ingest.ClassifierTimeout = d
	}

	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	opts := handler.Options{
		Settings:   settings,
		Classifier: newClassifier(c),
	}
	dispatchers, closeDiscord, err := newDispatchers(c)
	if err != nil {
		return err
	}
	defer closeDiscord()
	opts.Dispatchers = dispatchers

	h := handler.New(db.Pool(), opts)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	metricsEnabled := c.Bool("metrics")
	if metricsEnabled {
		metricsHandler, err := metrics.InitMeterProvider(ctx, "deepflow")
		if err != nil {
			return fmt.Errorf("failed to init metrics: %w", err)
		}
		if err := metrics.Init(); err != nil {
			return fmt.Errorf("failed to create instruments: %w", err)
		}
		mux.Handle("GET /metrics", metricsHandler)
	}

	var root http.Handler = mux
	if metricsEnabled {
		root = otelhttp.NewHandler(root, "deepflow")
	}
	root = cors.New(cors.Options{
		AllowedOrigins:   splitOrigins(c.String("cors-origins")),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(root)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+port, "metrics", metricsEnabled)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func newClassifier(c *cli.Context) classifier.Classifier {
	apiKey := c.String("openai-api-key")
	if apiKey == "" {
		slog.Warn("no classifier API key configured, every message gets the fallback classification")
		return classifier.Static{}
	}
	return classifier.NewOpenAI(apiKey, c.String("openai-base-url"), c.String("llm-model"))
}

// newDispatchers returns the optional delivery channels. The returned func
// closes any session that was opened.
func newDispatchers(c *cli.Context) ([]notify.Dispatcher, func(), error) {
	token := c.String("discord-token")
	channelID := c.String("discord-channel")
	if token == "" || channelID == "" {
		return nil, func() {}, nil
	}

	session, err := notify.NewDiscordSession(token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	slog.Info("discord notifications enabled", "channel_id", channelID)

	return []notify.Dispatcher{notify.NewDiscord(session, channelID)}, func() {
		if err := session.Close(); err != nil {
			slog.Warn("failed to close discord session", "error", err)
		}
	}, nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func runRescore(c *cli.Context) error {
	ctx := c.Context

	settings, err := loadSettings(c)
	if err != nil {
		return err
	}

	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	h := handler.New(db.Pool(), handler.Options{Settings: settings})
	n, err := h.TaskService().RescoreAll(ctx)
	if err != nil {
		return fmt.Errorf("rescore failed: %w", err)
	}

	slog.Info("rescore completed", "tasks", n)
	return nil
}

func runUserCreate(c *cli.Context) error {
	ctx := c.Context

	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	user := &domain.User{
		Name:     c.String("name"),
		Token:    uuid.NewString(),
		IsActive: true,
	}
	if err := repository.NewUserRepository(db.Pool()).Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created", "user_id", user.ID, "name", user.Name)
	fmt.Fprintf(c.App.Writer, "user_id: %s\ntoken:   %s\n", user.ID, user.Token)
	return nil
}

func runMigrateUp(c *cli.Context) error {
	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.RunMigrations(c.Context, db.Pool())
}

func runMigrateDown(c *cli.Context) error {
	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.RollbackMigration(c.Context, db.Pool())
}

func runMigrateStatus(c *cli.Context) error {
	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := database.MigrationVersion(c.Context, db.Pool())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "schema version: %d\n", version)
	return nil
}
