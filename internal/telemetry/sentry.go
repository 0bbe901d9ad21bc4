// Package telemetry reports unexpected failures to Sentry when configured.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/heavystatus/newsroom-edge/internal/errors"
)

// Reporter forwards errors to Sentry. The zero value reports nothing.
type Reporter struct {
	enabled bool
}

// NewReporter initializes the Sentry SDK. An empty DSN yields a disabled
// reporter.
func NewReporter(dsn, environment, release string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, err
	}
	return &Reporter{enabled: true}, nil
}

// Capture sends err with its category and component as tags.
func (r *Reporter) Capture(err error) {
	if r == nil || !r.enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("category", string(errors.CategoryOf(err)))
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			scope.SetTag("component", ee.Component())
			scope.SetContext("error", sentry.Context(ee.Context()))
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil || !r.enabled {
		return
	}
	sentry.Flush(timeout)
}

// Enabled reports whether events are sent anywhere.
func (r *Reporter) Enabled() bool {
	return r != nil && r.enabled
}
