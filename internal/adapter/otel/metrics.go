package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lsphost"

// Metrics holds all lsphost metric instruments.
type Metrics struct {
	SessionStarts   metric.Int64Counter
	SessionFailures metric.Int64Counter
	Transitions     metric.Int64Counter
	StartDuration   metric.Float64Histogram
	EventsForwarded metric.Int64Counter
	EventsFiltered  metric.Int64Counter
	EventsDropped   metric.Int64Counter
	Diagnostics     metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionStarts, err = meter.Int64Counter("lsphost.session.starts",
		metric.WithDescription("Number of session start attempts"))
	if err != nil {
		return nil, err
	}

	m.SessionFailures, err = meter.Int64Counter("lsphost.session.failures",
		metric.WithDescription("Number of sessions that stopped with a failed outcome"))
	if err != nil {
		return nil, err
	}

	m.Transitions, err = meter.Int64Counter("lsphost.session.transitions",
		metric.WithDescription("Number of session phase transitions"))
	if err != nil {
		return nil, err
	}

	m.StartDuration, err = meter.Float64Histogram("lsphost.session.start_seconds",
		metric.WithDescription("Spawn and initialize handshake duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.EventsForwarded, err = meter.Int64Counter("lsphost.bridge.forwarded",
		metric.WithDescription("Document events sent to the server"))
	if err != nil {
		return nil, err
	}

	m.EventsFiltered, err = meter.Int64Counter("lsphost.bridge.filtered",
		metric.WithDescription("Document events rejected by the selector"))
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter("lsphost.bridge.dropped",
		metric.WithDescription("Document events dropped on overflow or shutdown"))
	if err != nil {
		return nil, err
	}

	m.Diagnostics, err = meter.Int64Counter("lsphost.diagnostics.published",
		metric.WithDescription("publishDiagnostics notifications received"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
