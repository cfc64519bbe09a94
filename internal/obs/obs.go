// Package obs configures logging and wraps pipeline stages in a log line
// plus a trace span.
package obs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "cvrptw"

// SetupLogging configures the standard logrus logger. format is "text" or "json".
func SetupLogging(level, format string) error {
	lvl := log.InfoLevel
	if level != "" {
		var err error
		if lvl, err = log.ParseLevel(level); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("log format %q: want text or json", format)
	}
	return nil
}

// Start opens a span for op. The returned func ends it and logs the outcome;
// call it with the address of the named error result:
//
//	ctx, done := obs.Start(ctx, "opt.refine")
//	defer func() { done(&err) }()
func Start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, op, trace.WithAttributes(attrs...))
	started := time.Now()
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		dur := time.Since(started)
		entry := log.WithFields(log.Fields{"op": op, "dur_ms": dur.Milliseconds(), "ok": err == nil})
		for _, a := range attrs {
			entry = entry.WithField(string(a.Key), a.Value.Emit())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			entry.WithError(err).Warn("stage failed")
		} else {
			entry.Debug("stage done")
		}
		span.End()
	}
}

// Time is Start for callers that do not need the span context:
//
//	defer obs.Time(ctx, "instance.load")(&err)
func Time(ctx context.Context, op string) func(*error) {
	_, done := Start(ctx, op)
	return done
}
