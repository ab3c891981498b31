// Package analysis drives one data analysis from request to report: it
// asks the model for code, runs it in the sandbox, feeds the result back
// and decides when to stop.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kylegalloway/dataflame/internal/chart"
	"github.com/kylegalloway/dataflame/internal/config"
	"github.com/kylegalloway/dataflame/internal/extract"
	"github.com/kylegalloway/dataflame/internal/feedback"
	"github.com/kylegalloway/dataflame/internal/llm"
	"github.com/kylegalloway/dataflame/internal/prompt"
	"github.com/kylegalloway/dataflame/internal/report"
	"github.com/kylegalloway/dataflame/internal/sandbox"
	"github.com/kylegalloway/dataflame/internal/session"
)

// Executor runs code fragments against a session namespace.
type Executor interface {
	Execute(ctx context.Context, code string, ns *sandbox.Namespace, ws sandbox.Workspace) sandbox.Outcome
	Modules() []string
}

// Progress describes the round that just finished.
type Progress struct {
	SessionID string
	State     State
	Seq       int
	// Round is the analysis round the attempt belongs to; 0 while exploring.
	Round     int
	MaxRounds int
	OK        bool
	Kind      sandbox.Kind
	Charts    int
	Elapsed   time.Duration
}

// Observer is notified after every executed round.
type Observer interface {
	RoundDone(p Progress)
}

// Result is what a finished analysis hands back to the caller.
type Result struct {
	SessionID string
	Dir       string
	Report    session.ReportRef
	// Rounds counts successful analysis rounds.
	Rounds    int
	Attempts  int
	Failures  int
	Abandoned int
	Artifacts []string
	Dropped   []string
	Cancelled bool
	Duration  time.Duration
}

// Options bounds the loop.
type Options struct {
	MaxRecoverAttempts   int
	MaxExtractionRetries int
	DecisionMode         string
	DecisionThreshold    int
}

// Analyzer runs analyses. It holds no per-session state and may be reused.
type Analyzer struct {
	store     *session.Store
	executor  Executor
	client    llm.Client
	prompts   *prompt.Builder
	formatter *feedback.Formatter
	renderer  func(dir string) report.Renderer
	observer  Observer
	opts      Options
	logger    *slog.Logger
}

// New builds an Analyzer from configuration.
func New(cfg *config.Config, client llm.Client, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	executor := sandbox.NewExecutor(sandbox.Options{
		AllowedModules: cfg.Sandbox.AllowedModules,
		DeniedCalls:    cfg.Sandbox.DeniedCalls,
		Timeout:        cfg.Limits.ExecTimeout,
		MaxSteps:       cfg.Limits.MaxExecutionSteps,
		MaxStdoutBytes: cfg.Sandbox.MaxStdoutBytes,
		Charts:         chart.NewRenderer(),
		Logger:         logger,
	})
	return &Analyzer{
		store:     session.NewStore(cfg.Output.Dir, cfg.Output.MinFreeDiskMB, logger),
		executor:  executor,
		client:    client,
		prompts:   prompt.NewBuilder(executor.Modules(), cfg.Prompt.RecencyWindow),
		formatter: feedback.New(cfg.Format.StdoutLimit, cfg.Format.Budget),
		renderer:  func(dir string) report.Renderer { return report.NewFileRenderer(dir) },
		opts: Options{
			MaxRecoverAttempts:   cfg.Limits.MaxRecoverAttempts,
			MaxExtractionRetries: cfg.Limits.MaxExtractionRetries,
			DecisionMode:         cfg.Decision.Mode,
			DecisionThreshold:    cfg.Decision.Threshold,
		},
		logger: logger,
	}
}

// SetObserver registers a progress observer.
func (a *Analyzer) SetObserver(o Observer) { a.observer = o }

// SetRenderer replaces the report renderer factory. It is called with the
// session directory.
func (a *Analyzer) SetRenderer(fn func(dir string) report.Renderer) { a.renderer = fn }

// run is the state of one Analyze call.
type run struct {
	sess      *session.Session
	logger    *slog.Logger
	state     State
	maxRounds int
	start     time.Time
	thread    prompt.Stage

	used      int // analysis rounds consumed, successful or abandoned
	analyzed  int // successful analysis rounds
	succeeded int // successful executions of any stage
	failures  int
	abandoned int
	figures   []extract.Figure

	// stopErr is the terminal model error or cancellation that ended the loop.
	stopErr error
}

// Analyze runs a complete analysis of inputs for request, with at most
// maxRounds successful analysis rounds. Invalid inputs fail with a
// *session.InputError before anything is written. An analysis that never
// produced a successful round fails with an *AnalysisError; otherwise a
// report is always rendered, assembled locally if the model cannot write it.
func (a *Analyzer) Analyze(ctx context.Context, request string, inputs []string, maxRounds int) (*Result, error) {
	if maxRounds < 1 {
		return nil, &session.InputError{Reason: fmt.Sprintf("max_rounds must be >= 1, got %d", maxRounds)}
	}
	sess, err := a.store.Create(request, inputs)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			a.logger.Warn("close session", "session_id", sess.ID, "error", err)
		}
	}()

	r := &run{
		sess:      sess,
		logger:    a.logger.With("session_id", sess.ID),
		state:     StateInit,
		maxRounds: maxRounds,
		start:     time.Now(),
	}
	r.logger.Info("analysis started", "inputs", sess.Inputs, "max_rounds", maxRounds)

	a.loop(ctx, r)
	return a.finish(ctx, r)
}

func (a *Analyzer) loop(ctx context.Context, r *run) {
	a.transition(r, StateExplore, "")
	res := a.thread(ctx, r, prompt.StageExplore)
	if res == threadStopped {
		a.transition(r, StateReport, stopNote(r.stopErr))
		return
	}

	for {
		if err := ctx.Err(); err != nil {
			r.stopErr = err
			a.transition(r, StateReport, "cancelled")
			return
		}
		a.transition(r, StateAnalyze, "")
		res := a.thread(ctx, r, prompt.StageAnalyze)
		switch res {
		case threadStopped:
			a.transition(r, StateReport, stopNote(r.stopErr))
			return
		case threadComplete:
			a.transition(r, StateReport, "model reported the analysis complete")
			return
		case threadOK:
			r.used++
			r.analyzed++
		case threadAbandoned:
			r.used++
			r.abandoned++
		}

		a.transition(r, StateDecide, "")
		if r.used >= r.maxRounds {
			a.transition(r, StateReport, fmt.Sprintf("round limit %d reached", r.maxRounds))
			return
		}
		more, err := a.decide(ctx, r)
		if err != nil {
			r.stopErr = err
			a.transition(r, StateReport, stopNote(err))
			return
		}
		if !more {
			a.transition(r, StateReport, "analysis judged sufficient")
			return
		}
	}
}

func stopNote(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "model unavailable"
}

func (a *Analyzer) transition(r *run, to State, note string) {
	if !CanTransition(r.state, to) {
		r.logger.Error("illegal state transition", "from", r.state, "to", to)
	}
	r.state = to
	if err := r.sess.Transition(string(to), note); err != nil {
		r.logger.Warn("persist transition", "state", to, "error", err)
	}
	r.logger.Info("state", "state", to, "round", r.used, "note", note)
}

// decide reports whether another analysis round should run.
func (a *Analyzer) decide(ctx context.Context, r *run) (bool, error) {
	if a.opts.DecisionMode == config.DecisionThreshold {
		more := r.analyzed < a.opts.DecisionThreshold
		r.logger.Debug("threshold decision", "round", r.used, "state", r.state, "continue", more)
		return more, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	msgs := a.prompts.Build(a.input(r, prompt.StageDecide))
	text, err := a.client.Complete(ctx, msgs)
	if err != nil {
		r.logger.Warn("decision request failed", "round", r.used, "state", r.state, "error", err)
		return false, err
	}
	d, err := extract.ParseDecision(text)
	if err != nil {
		r.logger.Warn("unreadable decision, continuing", "round", r.used, "state", r.state, "error", err)
		return true, nil
	}
	r.logger.Info("decision", "round", r.used, "state", r.state, "continue", d.Continue, "reason", d.Reason)
	return d.Continue, nil
}

// input returns the prompt input for stage with the full round log as history.
func (a *Analyzer) input(r *run, stage prompt.Stage) prompt.Input {
	return prompt.Input{
		Request:   r.sess.Request,
		Inputs:    r.sess.Inputs,
		Namespace: r.sess.Namespace.Describe(),
		History:   r.sess.Rounds(),
		Stage:     stage,
		Round:     r.used,
		MaxRounds: r.maxRounds,
		Artifacts: r.sess.Artifacts(),
		Figures:   r.figures,
		Failed:    r.failures,
	}
}
