package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/querydesk/querydesk/internal/lexicon"
	"github.com/querydesk/querydesk/internal/nl2sql"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/schema"
	"github.com/querydesk/querydesk/internal/shaper"
	"github.com/querydesk/querydesk/internal/sqlguard"
)

var ErrMissingInput = errors.New("question is required")

type SnapshotReader interface {
	Current() *schema.Snapshot
}

type RuleResolver interface {
	Resolve(question string) []lexicon.MappingRule
}

type Config struct {
	Snapshots        SnapshotReader
	Lexicon          RuleResolver
	Generator        nl2sql.Generator
	Engine           query.Engine
	Shaper           *shaper.Shaper
	StaleAfter       time.Duration
	ExecutionTimeout time.Duration
	RowLimit         int
	Logger           *slog.Logger
	Now              func() time.Time
}

// Service answers questions: prompt, generate, guard, execute, shape.
type Service struct {
	snapshots        SnapshotReader
	lexicon          RuleResolver
	generator        nl2sql.Generator
	engine           query.Engine
	shaper           *shaper.Shaper
	staleAfter       time.Duration
	executionTimeout time.Duration
	rowLimit         int
	logger           *slog.Logger
	now              func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("snapshot reader is required")
	}
	if cfg.Lexicon == nil {
		return nil, fmt.Errorf("lexicon is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	s := &Service{
		snapshots:        cfg.Snapshots,
		lexicon:          cfg.Lexicon,
		generator:        cfg.Generator,
		engine:           cfg.Engine,
		shaper:           cfg.Shaper,
		staleAfter:       cfg.StaleAfter,
		executionTimeout: cfg.ExecutionTimeout,
		rowLimit:         cfg.RowLimit,
		logger:           cfg.Logger,
		now:              cfg.Now,
	}
	if s.shaper == nil {
		s.shaper = shaper.New(shaper.Config{Logger: cfg.Logger})
	}
	if s.rowLimit < s.shaper.MaxRows() {
		s.rowLimit = s.shaper.MaxRows()
	}
	if s.logger == nil {
		s.logger = observability.DiscardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Service) Ask(ctx context.Context, question string) (shaper.Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		observability.ObserveQuestion(observability.OutcomeMissingInput)
		return shaper.Response{}, ErrMissingInput
	}
	logger := s.logger.With("trace_id", observability.TraceIDFromContext(ctx))

	snapshot := s.snapshots.Current()
	switch {
	case !snapshot.Initialized():
		logger.WarnContext(ctx, "answering without schema snapshot")
	case s.staleAfter > 0 && s.now().Sub(snapshot.PublishedAt()) > s.staleAfter:
		logger.WarnContext(ctx, "answering with stale schema snapshot", "published_at", snapshot.PublishedAt())
	}

	rules := s.lexicon.Resolve(question)
	prompt := nl2sql.BuildPrompt(question, snapshot, rules)

	raw, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		observability.ObserveQuestion(observability.OutcomeGenerationFailed)
		logger.ErrorContext(ctx, "sql generation failed", "error", err)
		if !errors.Is(err, nl2sql.ErrGenerationUnavailable) {
			err = fmt.Errorf("%w: %v", nl2sql.ErrGenerationUnavailable, err)
		}
		return shaper.Response{}, err
	}

	validated, err := sqlguard.Validate(sqlguard.GeneratedQuery{RawText: raw, Question: question})
	if err != nil {
		observability.ObserveQuestion(observability.OutcomeUnsafeQuery)
		observability.IncrementGuardRejection()
		logger.WarnContext(ctx, "generated sql rejected", "error", err, "raw", raw)
		return shaper.Response{}, err
	}

	execCtx := ctx
	if s.executionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.executionTimeout)
		defer cancel()
	}
	started := time.Now()
	result, err := s.engine.Execute(execCtx, query.Request{SQL: validated.SQL(), RowLimit: s.rowLimit})
	observability.ObserveExecution(time.Since(started))
	if err != nil {
		observability.ObserveQuestion(observability.OutcomeExecutionFailed)
		logger.ErrorContext(ctx, "query execution failed", "error", err, "sql", validated.SQL())
		return shaper.Response{}, query.ExecutionFailed(err)
	}

	response := s.shaper.Shape(ctx, result, validated)
	observability.ObserveQuestion(observability.OutcomeAnswered)
	logger.InfoContext(ctx, "question answered",
		"tables", ruleTables(rules),
		"rows", len(result.Rows),
		"truncated", result.Truncated,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return response, nil
}

func ruleTables(rules []lexicon.MappingRule) []string {
	tables := make([]string, 0, len(rules))
	for _, rule := range rules {
		tables = append(tables, rule.Table)
	}
	return tables
}
