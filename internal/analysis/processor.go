package analysis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"citysnap-backend/internal/events"
	"citysnap-backend/internal/media"
	"citysnap-backend/internal/metrics"
	"citysnap-backend/internal/models"
	"citysnap-backend/internal/telemetry"
	"citysnap-backend/internal/vision"
)

const DefaultDisplayName = "input"

// Job identifies one analysis run. It is never persisted.
type Job struct {
	ReportID     int64
	ImageLocator string
	DisplayName  string
	// UserID is the report owner, carried only for event delivery.
	UserID string
}

type Predictor interface {
	Predict(ctx context.Context, locator, displayName string) (vision.Prediction, error)
	FetchArtifact(ctx context.Context, url string) ([]byte, error)
}

type ResultWriter interface {
	UpdateAIStatus(ctx context.Context, reportID int64, status string) error
	UpdateAIResults(ctx context.Context, reportID int64, result models.AIResult) error
}

type MaskSaver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

type Processor struct {
	predictor Predictor
	store     ResultWriter
	masks     MaskSaver
	vocab     LabelVocabulary
	bus       *events.Bus
	metrics   *metrics.PipelineMetrics
	reporter  *telemetry.Reporter
}

type Option func(*Processor)

func WithEvents(bus *events.Bus) Option {
	return func(p *Processor) { p.bus = bus }
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithReporter(r *telemetry.Reporter) Option {
	return func(p *Processor) { p.reporter = r }
}

func NewProcessor(predictor Predictor, store ResultWriter, masks MaskSaver, vocab LabelVocabulary, opts ...Option) *Processor {
	p := &Processor{
		predictor: predictor,
		store:     store,
		masks:     masks,
		vocab:     vocab,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one job to a terminal ai_status. It never returns an error and
// never lets a panic escape; every failure ends up logged and, where the store
// is reachable, recorded as "failed:<reason>".
func (p *Processor) Process(ctx context.Context, job Job) {
	start := time.Now()
	if job.DisplayName == "" {
		job.DisplayName = DefaultDisplayName
	}
	// Store writes ignore cancellation: every run ends at a terminal status.
	storeCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic: %v", r)
			log.Printf("[analysis] report %d: %s", job.ReportID, reason)
			p.reporter.CaptureError(fmt.Errorf("analysis %s", reason), "analysis", p.tags(job))
			p.failAfterPanic(storeCtx, job, reason)
			p.metrics.RecordAnalysis(metrics.OutcomePanic, time.Since(start))
		}
	}()

	if err := p.store.UpdateAIStatus(storeCtx, job.ReportID, Processing); err != nil {
		log.Printf("[analysis] report %d: failed to mark processing: %v", job.ReportID, err)
		p.metrics.IncStatusWriteErrors()
	} else {
		p.publish(job, events.AnalysisStarted, Processing)
	}

	prediction, err := p.predictor.Predict(ctx, job.ImageLocator, job.DisplayName)
	if err != nil {
		log.Printf("[analysis] report %d: prediction failed: %v", job.ReportID, err)
		p.reporter.CaptureError(err, "vision", p.tags(job))
		p.fail(storeCtx, job, err.Error())
		p.metrics.RecordAnalysis(metrics.OutcomeFailed, time.Since(start))
		return
	}

	result, maskLocator, outcome := p.mapPrediction(prediction)

	if maskLocator != "" {
		if name, err := p.storeMask(ctx, maskLocator); err != nil {
			log.Printf("[analysis] report %d: mask %s not stored: %v", job.ReportID, maskLocator, err)
			p.metrics.IncMaskFetchFailures()
		} else {
			result.MaskURL = &name
		}
	}

	if err := p.store.UpdateAIResults(storeCtx, job.ReportID, result); err != nil {
		log.Printf("[analysis] report %d: failed to write AI results: %v", job.ReportID, err)
		p.metrics.IncStatusWriteErrors()
		p.reporter.CaptureError(err, "analysis", p.tags(job))
		p.fail(storeCtx, job, "write results: "+err.Error())
		p.metrics.RecordAnalysis(metrics.OutcomeFailed, time.Since(start))
		return
	}

	log.Printf("[analysis] report %d: %s (%s)", job.ReportID, result.Status, time.Since(start).Round(time.Millisecond))
	p.publish(job, events.AnalysisCompleted, result.Status)
	p.metrics.RecordAnalysis(outcome, time.Since(start))
}

func (p *Processor) mapPrediction(prediction vision.Prediction) (models.AIResult, string, string) {
	switch pred := prediction.(type) {
	case vision.Detected:
		return models.AIResult{
			Status:      Clamp(pred.Label),
			ForceNormal: p.vocab.IsNormal(pred.Label),
		}, pred.MaskURL, metrics.OutcomeDetected
	case vision.NotDetected:
		return models.AIResult{
			Status:    Clamp(p.vocab.unclassifiable()),
			CaptionEN: optional(pred.CaptionEN),
			CaptionKO: optional(pred.CaptionKO),
		}, "", metrics.OutcomeNotDetected
	default:
		panic(fmt.Sprintf("unexpected prediction type %T", prediction))
	}
}

func (p *Processor) storeMask(ctx context.Context, locator string) (string, error) {
	name := media.BaseName(locator)
	if name == "" {
		return "", fmt.Errorf("mask locator %q has no file name", locator)
	}
	data, err := p.predictor.FetchArtifact(ctx, locator)
	if err != nil {
		return "", err
	}
	return p.masks.Save(ctx, name, data)
}

func (p *Processor) fail(ctx context.Context, job Job, reason string) {
	status := FailedStatus(reason)
	if err := p.store.UpdateAIStatus(ctx, job.ReportID, status); err != nil {
		log.Printf("[analysis] report %d: failed to record failure: %v", job.ReportID, err)
		p.metrics.IncStatusWriteErrors()
		return
	}
	p.publish(job, events.AnalysisFailed, status)
}

// failAfterPanic is fail for use inside a recover; a second panic from the
// store is logged and dropped.
func (p *Processor) failAfterPanic(ctx context.Context, job Job, reason string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[analysis] report %d: panic while recording failure: %v", job.ReportID, r)
		}
	}()
	p.fail(ctx, job, reason)
}

func (p *Processor) publish(job Job, t events.Type, status string) {
	p.bus.Publish(events.Event{
		Type:     t,
		ReportID: job.ReportID,
		UserID:   job.UserID,
		AIStatus: status,
	})
}

func (p *Processor) tags(job Job) map[string]string {
	return map[string]string{"report_id": strconv.FormatInt(job.ReportID, 10)}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
