package obs

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type pgxQueryKey struct{}

type pgxQuery struct {
	span      trace.Span
	operation string
	table     string
	started   time.Time
}

// PGXTracer implements pgx.QueryTracer. Each statement gets a span named after
// its operation and primary table, e.g. "INSERT bookings". Statements slower
// than SlowQuery are logged through the context logger.
type PGXTracer struct {
	SlowQuery time.Duration
}

var tableRef = regexp.MustCompile(`(?i)\b(?:from|into|update|join)\s+([a-z_][a-z0-9_.]*)`)

// TraceQueryStart starts a span for the SQL statement.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op, table := describeSQL(data.SQL)
	name := "pgx.query"
	if op != "" {
		name = strings.TrimSpace(op + " " + table)
	}
	ctx, span := otel.Tracer("trip-rewards/pgx").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", compactSQL(data.SQL)),
	)
	if op != "" {
		span.SetAttributes(attribute.String("db.operation", op))
	}
	if table != "" {
		span.SetAttributes(attribute.String("db.sql.table", table))
	}
	return context.WithValue(ctx, pgxQueryKey{}, &pgxQuery{span: span, operation: op, table: table, started: time.Now()})
}

// TraceQueryEnd ends the span and records any error.
func (t PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	q, ok := ctx.Value(pgxQueryKey{}).(*pgxQuery)
	if !ok {
		return
	}
	if data.Err != nil {
		q.span.RecordError(data.Err)
		q.span.SetStatus(codes.Error, data.Err.Error())
	} else {
		q.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	q.span.End()

	elapsed := time.Since(q.started)
	if t.SlowQuery > 0 && elapsed >= t.SlowQuery {
		zerolog.Ctx(ctx).Warn().
			Str("operation", q.operation).
			Str("table", q.table).
			Float64("duration_ms", DurationMillis(elapsed)).
			Msg("slow query")
	}
}

// describeSQL returns the upper-cased leading keyword of sql and the first
// table it references.
func describeSQL(sql string) (string, string) {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "", ""
	}
	op := strings.ToUpper(fields[0])
	if op == "WITH" {
		op = "CTE"
	}
	var table string
	if m := tableRef.FindStringSubmatch(sql); m != nil {
		table = strings.ToLower(m[1])
	}
	return op, table
}

func compactSQL(sql string) string {
	compact := strings.Join(strings.Fields(sql), " ")
	if len(compact) > 300 {
		return compact[:300] + "..."
	}
	return compact
}
