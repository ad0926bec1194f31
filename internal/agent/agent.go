// Package agent answers natural-language questions by generating SQL with a
// language model and checking it against the live database before running it.
//
// A run walks a fixed graph:
//
//	listTables → getTableSchema → generateSQL → preInspect → execute
//
// preInspect and execute route back to generateSQL with feedback until the
// SQL runs cleanly within the result size cap, or MaxAttempts generations
// have been spent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"sqlagent-backend/internal/llm"
	"sqlagent-backend/internal/metrics"
	"sqlagent-backend/internal/sqltext"
)

// Database is the catalog and query surface a run needs.
type Database interface {
	ListTables(ctx context.Context) (sqltext.Tabular, error)
	GetColumns(ctx context.Context, table string) (sqltext.Tabular, error)
	Sample(ctx context.Context, table string, limit int) (sqltext.Tabular, error)
	Query(ctx context.Context, stmt string) (sqltext.Tabular, error)
}

// LanguageModel renders a prompt template and returns the completion.
type LanguageModel interface {
	Generate(ctx context.Context, p llm.Prompt, vars map[string]string) (string, error)
}

const (
	DefaultMaxAttempts   = 5
	DefaultStepTimeout   = 60 * time.Second
	DefaultSampleRows    = 3
	DefaultResultSizeCap = 4096
	DefaultDialect       = "MySQL"
)

type Config struct {
	Logger   *slog.Logger
	Database Database
	LLM      LanguageModel

	// Dialect names the SQL dialect in the generation prompt.
	Dialect string

	// MaxAttempts bounds SQL generations per run.
	MaxAttempts int

	// StepTimeout bounds each step, including its gateway calls.
	StepTimeout time.Duration

	// SampleRows is the number of rows sampled per selected table.
	SampleRows int

	// ResultSizeCap is the largest serialized inspection result, in
	// characters, that is passed through to execution.
	ResultSizeCap int

	// Observer, when set, receives every step event synchronously.
	Observer func(Event)
}

func (cfg *Config) Validate() error {
	if cfg.Database == nil {
		return errors.New("database is required")
	}
	if cfg.LLM == nil {
		return errors.New("language model is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DefaultDialect
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.StepTimeout < 0 {
		return fmt.Errorf("step timeout must be positive, got %s", cfg.StepTimeout)
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = DefaultSampleRows
	}
	if cfg.ResultSizeCap <= 0 {
		cfg.ResultSizeCap = DefaultResultSizeCap
	}
	return nil
}

// Phase marks where in a step an Event was emitted.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Event reports progress of a run.
type Event struct {
	RunID    string        `json:"run_id"`
	Step     string        `json:"step"`
	Phase    Phase         `json:"phase"`
	Attempt  int           `json:"attempt"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Result is the answer to one question.
type Result struct {
	RunID    string  `json:"run_id"`
	Response string  `json:"response"`
	Outcome  Outcome `json:"outcome"`
	Attempts int     `json:"attempts"`
	SQL      string  `json:"sql,omitempty"`
}

type Agent struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Agent{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Run answers question. Database failures while trying generated SQL are fed
// back to the model and never returned; gateway failures outside that loop,
// malformed results and context cancellation fail the run.
func (a *Agent) Run(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	runID := uuid.NewString()
	log := a.log.With("run_id", runID)
	start := time.Now()
	log.Info("agent: run started", "question", question)

	s := &State{Question: question}
	for node := NodeListTables; node != NodeEnd; {
		if err := ctx.Err(); err != nil {
			metrics.RunsTotal.WithLabelValues("canceled").Inc()
			return nil, err
		}

		if node == NodeGenerateSQL && s.Attempts >= a.cfg.MaxAttempts {
			log.Warn("agent: attempts exhausted", "attempts", s.Attempts, "feedback", retryFeedback(s))
			s.Outcome = OutcomeAttemptsExhausted
			s.Response = fmt.Sprintf(exhaustedFormat, s.Attempts, retryFeedback(s))
			break
		}

		if err := a.runStep(ctx, log, runID, node, s); err != nil {
			metrics.RunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%s: %w", node, err)
		}
		node = next(node, s)
	}

	if s.Outcome == "" {
		s.Outcome, s.Response = finalOutcome(s)
	}

	metrics.RunsTotal.WithLabelValues(string(s.Outcome)).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	metrics.GenerationAttempts.Observe(float64(s.Attempts))
	log.Info("agent: run completed", "outcome", s.Outcome, "attempts", s.Attempts, "duration", time.Since(start))

	return &Result{
		RunID:    runID,
		Response: s.Response,
		Outcome:  s.Outcome,
		Attempts: s.Attempts,
		SQL:      s.SQL,
	}, nil
}

func (a *Agent) runStep(ctx context.Context, log *slog.Logger, runID string, node Node, s *State) error {
	stepCtx, cancel := context.WithTimeout(ctx, a.cfg.StepTimeout)
	defer cancel()

	a.emit(ctx, Event{RunID: runID, Step: node.String(), Phase: PhaseStarted, Attempt: s.Attempts})
	start := time.Now()

	err := a.stepFor(node)(stepCtx, s)
	duration := time.Since(start)
	metrics.StepDuration.WithLabelValues(node.String()).Observe(duration.Seconds())

	if err != nil {
		log.Error("agent: step failed", "step", node, "duration", duration, "error", err)
		a.emit(ctx, Event{RunID: runID, Step: node.String(), Phase: PhaseFailed, Attempt: s.Attempts, Detail: err.Error(), Duration: duration})
		return err
	}

	detail := stepDetail(node, s)
	log.Debug("agent: step completed", "step", node, "duration", duration, "detail", detail)
	a.emit(ctx, Event{RunID: runID, Step: node.String(), Phase: PhaseCompleted, Attempt: s.Attempts, Detail: detail, Duration: duration})
	return nil
}

func (a *Agent) emit(ctx context.Context, e Event) {
	if a.cfg.Observer != nil {
		a.cfg.Observer(e)
	}
	if observe, ok := ctx.Value(observerKey{}).(func(Event)); ok {
		observe(e)
	}
}

type observerKey struct{}

// WithObserver returns a context whose runs also report their events to
// observe, after the configured Observer.
func WithObserver(ctx context.Context, observe func(Event)) context.Context {
	return context.WithValue(ctx, observerKey{}, observe)
}

func finalOutcome(s *State) (Outcome, string) {
	if len(s.Tables) == 0 {
		return OutcomeNoRelevantTables, noRelevantTablesMessage
	}
	return OutcomeSucceeded, s.Execution.Response
}

func stepDetail(node Node, s *State) string {
	switch node {
	case NodeListTables:
		return fmt.Sprintf("%d tables", len(s.TableNames))
	case NodeGetTableSchema:
		return strings.Join(s.Tables, ", ")
	case NodeGenerateSQL:
		return s.SQL
	case NodePreInspect:
		return s.Inspection.Render()
	case NodeExecute:
		if s.Execution.Outcome == ExecutionSucceeded {
			return s.Execution.Response
		}
		return s.Execution.Outcome.String() + ": " + s.Execution.Message
	default:
		return ""
	}
}
