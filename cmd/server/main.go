package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citysnap-backend/internal/analysis"
	"citysnap-backend/internal/config"
	"citysnap-backend/internal/database"
	"citysnap-backend/internal/handlers"
	"citysnap-backend/internal/ingest"
	"citysnap-backend/internal/media"
	"citysnap-backend/internal/notify"
	"citysnap-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "citysnap",
		Short:        "Facility damage report backend",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the analysis workers (default)",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  runMigrate,
		},
		reanalyzeCommand(),
	)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.migrate(ctx); err != nil {
		return err
	}

	dispatcher := services.NewDispatcher(a.processor, cfg.AIWorkers, a.metrics)

	expo := notify.NewExpoClient(cfg.ExpoPushURL, nil)
	notify.NewNotifier(expo, a.store, cfg.PushTokenTTL, a.metrics, a.reporter).
		WithNearbyRadius(float64(cfg.NearbyPushRadius)).
		Subscribe(a.bus, cfg.NotifyOnAnalysis)

	routes := handlers.Routes{
		Reports:   handlers.NewReportsHandler(ingest.NewService(a.store, a.photos), a.store, a.photos, a.masks, dispatcher, a.bus, a.metrics),
		DamageMap: handlers.NewDamageMapHandler(a.store),
		Admin:     handlers.NewAdminHandler(a.store),
		Registry:  a.registry,
	}
	if a.postgres != nil {
		routes.DB = a.postgres.DB()
	}
	if photos, ok := a.photos.(*media.LocalStore); ok {
		routes.PhotoDir = photos.Dir()
	}
	if masks, ok := a.masks.(*media.LocalStore); ok {
		routes.MaskDir = masks.Dir()
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router, cfg, routes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: analysis jobs still running at shutdown: %v", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	pg, err := database.OpenPostgres(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := database.NewMigrator(pg.DB()).Run(cmd.Context()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

func reanalyzeCommand() *cobra.Command {
	var (
		reportID int64
		src      string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "reanalyze",
		Short: "Run AI analysis for one report in the foreground",
		Long: `Run the analysis task for a stored report and print the resulting ai_status.

Examples:
  citysnap reanalyze --report-id=42
  citysnap reanalyze --report-id=42 --src=https://cdn.example.com/photo.jpg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reportID <= 0 {
				return errors.New("--report-id must be positive")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.store.GetReport(cmd.Context(), reportID)
			if err != nil {
				return err
			}

			job := analysis.Job{
				ReportID:     reportID,
				ImageLocator: src,
				DisplayName:  name,
				UserID:       report.UserID,
			}
			if job.ImageLocator == "" {
				job.ImageLocator = a.photos.Locate(report.PhotoURL)
			}

			a.processor.Process(cmd.Context(), job)

			report, err = a.store.GetReport(cmd.Context(), reportID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report %d: ai_status=%q is_normal=%d\n",
				reportID, report.AIStatus.String, report.IsNormal)
			return nil
		},
	}

	cmd.Flags().Int64Var(&reportID, "report-id", 0, "Report to analyze")
	cmd.Flags().StringVar(&src, "src", "", "Image locator to analyze instead of the stored photo")
	cmd.Flags().StringVar(&name, "name", analysis.DefaultDisplayName, "Display name sent with the image")
	_ = cmd.MarkFlagRequired("report-id")
	return cmd
}
