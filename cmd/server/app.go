package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"citysnap-backend/internal/analysis"
	"citysnap-backend/internal/config"
	"citysnap-backend/internal/database"
	"citysnap-backend/internal/events"
	"citysnap-backend/internal/media"
	"citysnap-backend/internal/metrics"
	"citysnap-backend/internal/supabase"
	"citysnap-backend/internal/telemetry"
	"citysnap-backend/internal/vision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	store     database.Store
	postgres  *database.PostgresStore
	photos    media.Store
	masks     media.Store
	registry  *prometheus.Registry
	metrics   *metrics.PipelineMetrics
	reporter  *telemetry.Reporter
	bus       *events.Bus
	processor *analysis.Processor
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, bus: events.NewBus()}

	reporter, err := telemetry.Init(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	a.reporter = reporter

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metrics, err = metrics.NewPipelineMetrics(a.registry); err != nil {
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	if err := a.openMedia(); err != nil {
		a.close()
		return nil, err
	}

	gateway := vision.NewClient(vision.ClientConfig{
		BaseURL:        cfg.AIBaseURL,
		ConnectTimeout: cfg.AIConnectTimeout,
		ReadTimeout:    cfg.AIReadTimeout,
		MaskTimeout:    cfg.AIMaskTimeout,
	})
	vocab := analysis.LabelVocabulary{
		NormalSuffixes: cfg.AINormalSuffixes,
		Unclassifiable: cfg.AIUnclassifiableText,
	}
	a.processor = analysis.NewProcessor(gateway, a.store, a.masks, vocab,
		analysis.WithEvents(a.bus),
		analysis.WithMetrics(a.metrics),
		analysis.WithReporter(a.reporter),
	)

	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		client, err := supabase.NewClient(cfg)
		if err != nil {
			log.Printf("Warning: realtime events disabled: %v", err)
		} else {
			supabase.NewRealtimePublisher(client, cfg.SupabaseEventsTable).Subscribe(a.bus)
		}
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set. Using the in-memory report store; data is lost on restart.")
		mem := database.NewMemoryStore()
		mem.AutoCreateUsers = true
		a.store = mem
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pg, err := database.OpenPostgres(connectCtx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.postgres = pg
	a.store = pg
	return nil
}

func (a *app) openMedia() error {
	switch a.cfg.MediaBackend {
	case "supabase":
		a.photos = supabase.NewStorageClient(a.cfg.SupabaseURL, a.cfg.SupabaseKey, a.cfg.SupabasePhotoBucket)
		a.masks = supabase.NewStorageClient(a.cfg.SupabaseURL, a.cfg.SupabaseKey, a.cfg.SupabaseMaskBucket)
	default:
		photos, err := media.NewLocalStore(a.cfg.PhotoDir)
		if err != nil {
			return fmt.Errorf("failed to open photo directory: %w", err)
		}
		masks, err := media.NewLocalStore(a.cfg.MaskDir)
		if err != nil {
			return fmt.Errorf("failed to open mask directory: %w", err)
		}
		a.photos, a.masks = photos, masks
	}
	return nil
}

// migrate runs the embedded migrations when a database is configured.
func (a *app) migrate(ctx context.Context) error {
	if a.postgres == nil {
		return nil
	}
	if err := database.NewMigrator(a.postgres.DB()).Run(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

func (a *app) close() {
	a.bus.Wait()
	a.reporter.Flush(2 * time.Second)
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("Warning: failed to close store: %v", err)
		}
	}
}
