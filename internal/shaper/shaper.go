package shaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/querydesk/querydesk/internal/chart"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/sqlguard"
)

const DefaultMaxRows = 20

// Response is the payload returned for an answered question. Table is never
// nil so it always encodes as a JSON array.
type Response struct {
	Summary string      `json:"summary"`
	SQL     string      `json:"sql"`
	Columns []string    `json:"columns"`
	Table   []query.Row `json:"table"`
	Chart   string      `json:"chart,omitempty"`
}

type Config struct {
	MaxRows      int
	Renderer     chart.Renderer
	ChartTimeout time.Duration
	Logger       *slog.Logger
}

type Shaper struct {
	maxRows      int
	renderer     chart.Renderer
	chartTimeout time.Duration
	logger       *slog.Logger
}

func New(cfg Config) *Shaper {
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	timeout := cfg.ChartTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Shaper{
		maxRows:      maxRows,
		renderer:     cfg.Renderer,
		chartTimeout: timeout,
		logger:       logger,
	}
}

func (s *Shaper) MaxRows() int {
	return s.maxRows
}

// Shape caps the table at MaxRows and attaches a chart reference when the
// renderer succeeds. Chart failures never fail the response.
func (s *Shaper) Shape(ctx context.Context, result query.Result, validated sqlguard.ValidatedQuery) Response {
	rows := result.Rows
	if len(rows) > s.maxRows {
		rows = rows[:s.maxRows]
	}
	table := make([]query.Row, len(rows))
	copy(table, rows)

	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}

	response := Response{
		Summary: summarize(len(result.Rows), result.Truncated, len(table)),
		SQL:     validated.SQL(),
		Columns: columns,
		Table:   table,
	}
	if s.renderer != nil && len(table) > 0 {
		response.Chart = s.renderChart(ctx, chart.Input{
			Question: validated.Question(),
			Columns:  columns,
			Rows:     table,
		})
	}
	return response
}

func (s *Shaper) renderChart(ctx context.Context, input chart.Input) string {
	ctx, cancel := context.WithTimeout(ctx, s.chartTimeout)
	defer cancel()

	type outcome struct {
		ref string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- outcome{err: fmt.Errorf("chart renderer panic: %v", recovered)}
			}
		}()
		ref, err := s.renderer.Render(ctx, input)
		done <- outcome{ref: ref, err: err}
	}()

	var result outcome
	select {
	case result = <-done:
	case <-ctx.Done():
		result = outcome{err: fmt.Errorf("chart render: %w", ctx.Err())}
	}
	if result.err != nil {
		observability.IncrementChartFailure()
		s.logger.WarnContext(ctx, "chart render failed",
			"error", result.err,
			"trace_id", observability.TraceIDFromContext(ctx),
		)
		return ""
	}
	return result.ref
}

func summarize(total int, truncated bool, shown int) string {
	count := fmt.Sprintf("%d", total)
	if truncated {
		count += "+"
	}
	var summary string
	switch {
	case total == 0:
		return "No results found."
	case total == 1 && !truncated:
		summary = "Found 1 result."
	default:
		summary = fmt.Sprintf("Found %s results.", count)
	}
	if shown < total || truncated {
		summary += fmt.Sprintf(" Showing the first %d.", shown)
	}
	return summary
}
