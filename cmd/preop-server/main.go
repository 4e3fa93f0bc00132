package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/anesth/preop/internal/config"
	"github.com/anesth/preop/internal/domain/assessment"
	"github.com/anesth/preop/internal/domain/checklist"
	"github.com/anesth/preop/internal/domain/documents"
	"github.com/anesth/preop/internal/domain/patient"
	"github.com/anesth/preop/internal/domain/scoring"
	"github.com/anesth/preop/internal/platform/auth"
	"github.com/anesth/preop/internal/platform/autosave"
	"github.com/anesth/preop/internal/platform/blobstore"
	"github.com/anesth/preop/internal/platform/db"
	"github.com/anesth/preop/internal/platform/events"
	"github.com/anesth/preop/internal/platform/logging"
	"github.com/anesth/preop/internal/platform/metrics"
	"github.com/anesth/preop/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "preop-server",
		Short: "Pre-anesthesia consultation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg, "preop-migrate"))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg, "preop-migrate"))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// scoreCmd reconciles an assessment record read from a file or stdin and
// prints it with every derived field filled in.
func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score [file]",
		Short: "Compute the derived fields of an assessment record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return scoreRecord(in, cmd.OutOrStdout())
		},
	}
	return cmd
}

func scoreRecord(in io.Reader, out io.Writer) error {
	var r assessment.Record
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	assessment.Reconcile(&r)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the assessment list to an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			status, _ := cmd.Flags().GetString("status")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg, "preop-export"))
			if err != nil {
				return err
			}
			defer pool.Close()

			patients := patient.NewService(patient.NewRepo(pool), nil)
			svc := assessment.NewService(assessment.NewRepo(pool), patients, assessment.Options{
				AutosaveDelay: cfg.AutosaveDelay,
				Logger:        logging.New(cfg.Env, cfg.LogFormat, cmd.ErrOrStderr()),
			})
			defer svc.Close(ctx)

			body, n, err := svc.ExportXLSX(ctx, map[string]string{"status": status, "from": from, "to": to})
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if err := os.WriteFile(output, body, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d assessment(s) to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "consultations.xlsx", "Workbook path")
	cmd.Flags().String("status", "", "Only export draft or final assessments")
	cmd.Flags().String("from", "", "Earliest consultation date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Latest consultation date (YYYY-MM-DD)")
	return cmd
}

// tokenCmd mints a signed token for integrations when AUTH_MODE is jwt.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			name, _ := cmd.Flags().GetString("name")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken([]byte(cfg.AuthJWTSecret), subject, name, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "User id carried by the token")
	cmd.Flags().String("name", "", "Display name printed on documents")
	cmd.Flags().StringSlice("role", []string{"anesthesiologist"}, "Roles granted (repeatable)")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

// routeRegistrar is implemented by every domain handler.
type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

func poolOptions(cfg *config.Config, app string) db.PoolOptions {
	return db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns, AppName: app}
}

func newEcho(cfg *config.Config, logger zerolog.Logger, reg *metrics.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(reg))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Archive-ID", "Content-Disposition"},
	}))
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthJWTSecret),
	})
}

// newDraftStore mirrors autosaves into Redis when REDIS_URL is set. The
// returned close function is never nil.
func newDraftStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (autosave.DraftStore, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set, drafts kept in memory")
		return autosave.NewMemoryDraftStore(24 * time.Hour), func() {}, nil
	}
	client, err := autosave.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("connected to redis")
	return autosave.NewRedisDraftStore(client, "preop:draft:", 24*time.Hour), func() { client.Close() }, nil
}

func newArchive(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.BlobStore, error) {
	if cfg.MinioEndpoint == "" {
		logger.Info().Msg("MINIO_ENDPOINT not set, print archive kept in memory")
		return blobstore.NewInMemoryBlobStore(), nil
	}
	store, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}
	logger.Info().Str("bucket", cfg.MinioBucket).Msg("print archive on minio")
	return store, nil
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		logger.Info().Msg("AMQP_URL not set, events are dropped")
		return events.NopPublisher{}, nil
	}
	pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("queue", cfg.AMQPQueue).Msg("publishing events")
	return pub, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogFormat, os.Stdout)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg, "preop-server"))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var reg *metrics.Registry
	if cfg.MetricsEnabled {
		reg = metrics.New()
	}

	drafts, closeDrafts, err := newDraftStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDrafts()

	archive, err := newArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}

	pub, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	emitter := events.NewEmitter(pub, logger, reg)

	patientSvc := patient.NewService(patient.NewRepo(pool), reg)
	assessmentSvc := assessment.NewService(assessment.NewRepo(pool), patientSvc, assessment.Options{
		DB:            pool,
		Drafts:        drafts,
		AutosaveDelay: cfg.AutosaveDelay,
		Events:        emitter,
		Metrics:       reg,
		Logger:        logger,
	})
	checklistSvc := checklist.NewService(checklist.NewRepo(pool), emitter, reg)
	documentSvc := documents.NewService(documents.NewRepo(pool), emitter, reg)

	e := newEcho(cfg, logger, reg)
	apiV1 := e.Group("/api/v1", authMiddleware(cfg))
	for _, h := range []routeRegistrar{
		scoring.NewHandler(reg),
		patient.NewHandler(patientSvc),
		assessment.NewHandler(assessmentSvc, assessment.NewPrinter(assessmentSvc, archive, reg)),
		checklist.NewHandler(checklistSvc, checklist.NewPrinter(checklistSvc, patientSvc, archive, reg)),
		documents.NewHandler(documentSvc, documents.NewPrinter(documentSvc, patientSvc, archive, reg)),
		blobstore.NewBlobHandler(archive),
	} {
		h.RegisterRoutes(apiV1)
	}

	e.GET("/health", db.HealthHandler(pool))
	if reg != nil {
		e.GET("/metrics", echo.WrapHandler(reg.Handler()))
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	// Pending autosaves are written before their events are drained.
	if err := assessmentSvc.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("pending autosaves not written")
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("pending events not published")
	}
	logger.Info().Msg("server stopped")
	return nil
}

