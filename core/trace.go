package core

import (
	"context"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "fleetdb/core"

func (db *DB) startSpan(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	return db.tracer.Start(ctx, "mongodb."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "mongodb"),
			attribute.String("db.operation", op),
			attribute.String("db.mongodb.collection", collection),
		))
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Timer measures one storage call between TraceStart and End.
type Timer struct {
	log    *zap.Logger
	id     xid.ID
	start  time.Time
	module string
	method string
	tenant string
}

// TraceStart logs the beginning of a storage call at debug level.
func (db *DB) TraceStart(tenantID, module, method string) *Timer {
	t := &Timer{
		log:    db.log,
		id:     xid.New(),
		start:  time.Now(),
		module: module,
		method: method,
		tenant: tenantID,
	}
	if ce := t.log.Check(zap.DebugLevel, "start"); ce != nil {
		ce.Write(t.fields()...)
	}
	return t
}

// End logs the duration of the call along with fields.
func (t *Timer) End(fields ...zap.Field) {
	if ce := t.log.Check(zap.DebugLevel, "end"); ce != nil {
		fs := append(t.fields(), zap.Duration("duration", time.Since(t.start)))
		ce.Write(append(fs, fields...)...)
	}
}

// ID returns the timer id shared by the start and end entries.
func (t *Timer) ID() string {
	return t.id.String()
}

func (t *Timer) fields() []zap.Field {
	return []zap.Field{
		zap.String("timer", t.id.String()),
		zap.String("tenant", t.tenant),
		zap.String("module", t.module),
		zap.String("method", t.method),
	}
}
