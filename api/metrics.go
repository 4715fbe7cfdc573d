package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestSpanName   = "board.request"
	requestLogMessage = "board.request.metrics"
	metricsContextKey = "board.metrics"
)

// requestMetrics times one API request, records it on a span and logs a
// single structured line when the request finishes.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time
	route  string
	method string

	authDuration  time.Duration
	storeDuration time.Duration
	boardID       string
	columns       int
	cards         int
	duplicate     bool
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer("taskflow/api").Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		))
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
		method: method,
	}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration)  { m.authDuration = d }
func (m *requestMetrics) ObserveStore(d time.Duration) { m.storeDuration = d }

func (m *requestMetrics) SetBoard(id string) { m.boardID = id }

func (m *requestMetrics) SetSnapshotSize(columns, cards int) {
	m.columns, m.cards = columns, cards
}

func (m *requestMetrics) SetDuplicate() { m.duplicate = true }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes the metrics line.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := durationToMillis(time.Since(m.start))
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Float64("board.request.total_ms", total),
	}
	fields := log.Fields{
		"route":    m.route,
		"method":   m.method,
		"status":   status,
		"total_ms": total,
	}
	if m.boardID != "" {
		attrs = append(attrs, attribute.String("board.id", m.boardID))
		fields["board_id"] = m.boardID
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("board.request.store_ms", durationToMillis(m.storeDuration)))
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.columns > 0 || m.cards > 0 {
		attrs = append(attrs, attribute.Int("board.columns", m.columns), attribute.Int("board.cards", m.cards))
		fields["columns"], fields["cards"] = m.columns, m.cards
	}
	if m.duplicate {
		attrs = append(attrs, attribute.Bool("board.request.duplicate", true))
		fields["duplicate"] = true
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("board.request.error_stage", m.errorStage))
		fields["error_stage"] = m.errorStage
	}

	severity, number := severityForStatus(status, err)
	fields["severity_text"] = severity
	fields["severity_number"] = number
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}

	m.span.SetAttributes(attrs...)
	switch {
	case err != nil:
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
		fields["error"] = err.Error()
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error(requestLogMessage)
	case "WARN":
		entry.Warn(requestLogMessage)
	default:
		entry.Info(requestLogMessage)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
