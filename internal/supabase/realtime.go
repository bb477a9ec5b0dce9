package supabase

import (
	"fmt"
	"log"
	"time"

	"citysnap-backend/internal/events"
	"github.com/supabase-community/supabase-go"
)

// RealtimePublisher records report events in a table that Supabase Realtime
// broadcasts to subscribed clients, so the app sees status changes without polling.
type RealtimePublisher struct {
	client *supabase.Client
	table  string
}

func NewRealtimePublisher(client *supabase.Client, table string) *RealtimePublisher {
	return &RealtimePublisher{
		client: client,
		table:  table,
	}
}

type reportEventRow struct {
	ReportID  int64   `json:"report_id"`
	UserID    string  `json:"user_id"`
	Event     string  `json:"event"`
	AIStatus  *string `json:"ai_status"`
	CreatedAt string  `json:"created_at"`
}

func (r *RealtimePublisher) Publish(e events.Event) error {
	row := reportEventRow{
		ReportID:  e.ReportID,
		UserID:    e.UserID,
		Event:     string(e.Type),
		CreatedAt: e.At.UTC().Format(time.RFC3339),
	}
	if e.AIStatus != "" {
		status := e.AIStatus
		row.AIStatus = &status
	}

	if _, _, err := r.client.From(r.table).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to publish %s for report %d: %w", e.Type, e.ReportID, err)
	}
	return nil
}

// Handle is an events.Handler; failures are logged only.
func (r *RealtimePublisher) Handle(e events.Event) {
	if e.UserID == "" {
		return
	}
	if err := r.Publish(e); err != nil {
		log.Printf("[realtime] %v", err)
	}
}

// Subscribe registers the publisher for every report lifecycle event.
func (r *RealtimePublisher) Subscribe(bus *events.Bus) {
	bus.SubscribeMultiple([]events.Type{
		events.ReportCreated,
		events.AnalysisStarted,
		events.AnalysisCompleted,
		events.AnalysisFailed,
	}, r.Handle)
}
