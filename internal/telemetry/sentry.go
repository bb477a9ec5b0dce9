// Package telemetry forwards failures that the pipeline swallows (AI task and
// gateway errors, notification errors) to Sentry.
package telemetry

import (
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter captures errors on its own hub. A nil *Reporter drops everything,
// which is what the server runs with when SENTRY_DSN is unset.
type Reporter struct {
	hub *sentry.Hub
}

// Init builds a Reporter for dsn, or returns nil when dsn is empty.
func Init(dsn, environment string) (*Reporter, error) {
	if dsn == "" {
		log.Println("[telemetry] SENTRY_DSN not set, error reporting disabled")
		return nil, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return NewReporter(client), nil
}

func NewReporter(client *sentry.Client) *Reporter {
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}
}

// CaptureError reports err tagged with component and any extra tags.
func (r *Reporter) CaptureError(err error, component string, tags map[string]string) {
	if r == nil || err == nil {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetFingerprint([]string{component, fmt.Sprintf("%T", err)})
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for queued events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if r == nil {
		return true
	}
	return r.hub.Flush(timeout)
}
