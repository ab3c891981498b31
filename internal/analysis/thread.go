package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kylegalloway/dataflame/internal/extract"
	"github.com/kylegalloway/dataflame/internal/prompt"
	"github.com/kylegalloway/dataflame/internal/session"
)

type threadResult int

const (
	threadOK threadResult = iota
	threadComplete
	threadAbandoned
	threadStopped
)

// thread runs one line of analysis: ask for code, execute it and, on
// failure, ask for corrections up to MaxRecoverAttempts times.
func (a *Analyzer) thread(ctx context.Context, r *run, stage prompt.Stage) threadResult {
	r.thread = stage
	reply, err := a.ask(ctx, r, a.input(r, stage))
	switch {
	case err != nil && r.stopErr != nil:
		return threadStopped
	case err != nil:
		return threadAbandoned
	case reply.Complete():
		r.logger.Info("model reported the analysis complete", "round", r.used, "state", r.state)
		return threadComplete
	}

	round, ok := a.execute(ctx, r, stage, reply)
	if !ok {
		return threadStopped
	}
	if round.OK() {
		return threadOK
	}

	for attempt := 1; attempt <= a.opts.MaxRecoverAttempts; attempt++ {
		a.transition(r, StateRecover, fmt.Sprintf("attempt %d: %s", attempt, round.Outcome.Failure.Kind))

		in := a.input(r, prompt.StageRecover)
		in.History = in.History[:len(in.History)-1]
		in.Latest = round.Summary
		in.Attempt = attempt
		in.MaxAttempts = a.opts.MaxRecoverAttempts

		reply, err := a.ask(ctx, r, in)
		if err != nil {
			if r.stopErr != nil {
				return threadStopped
			}
			continue
		}
		if reply.Complete() {
			r.logger.Info("model gave up on the failing step", "round", r.used, "state", r.state)
			break
		}

		round, ok = a.execute(ctx, r, prompt.StageRecover, reply)
		if !ok {
			return threadStopped
		}
		if round.OK() {
			return threadOK
		}
	}

	r.logger.Warn("analysis thread abandoned", "round", r.used, "state", r.state, "attempts", a.opts.MaxRecoverAttempts)
	return threadAbandoned
}

// ask requests a reply carrying code, re-prompting up to
// MaxExtractionRetries times when no unambiguous code block is found. A
// terminal model error or cancellation is stored in r.stopErr.
// maxFigureReplies bounds how many figure-only replies one request may
// receive before they count as extraction failures.
const maxFigureReplies = 2

func (a *Analyzer) ask(ctx context.Context, r *run, in prompt.Input) (extract.Reply, error) {
	var lastErr error
	figureReplies := 0
	for attempt := 0; attempt <= a.opts.MaxExtractionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			r.stopErr = err
			return extract.Reply{}, err
		}

		text, err := a.client.Complete(ctx, a.prompts.Build(in))
		if err != nil {
			r.logger.Warn("model request failed", "round", r.used, "state", r.state, "error", err)
			r.stopErr = err
			return extract.Reply{}, err
		}

		reply, err := extract.Code(text)
		if err == nil && reply.CollectsFigures() {
			r.addFigures(reply.Figures)
			r.logger.Info("figures described", "round", r.used, "state", r.state, "figures", len(reply.Figures))
			figureReplies++
			if figureReplies <= maxFigureReplies {
				attempt--
				in.Notice = figureNotice(reply.Figures)
				continue
			}
			err = fmt.Errorf("%w: figure descriptions without code", extract.ErrNoCodeBlock)
		}
		if err == nil {
			r.addFigures(reply.Figures)
			return reply, nil
		}
		lastErr = err
		r.logger.Warn("no usable code in reply", "round", r.used, "state", r.state, "attempt", attempt+1, "error", err)
		in.Notice = extractionNotice(err)
	}
	return extract.Reply{}, fmt.Errorf("extraction: %w", lastErr)
}

// addFigures records chart descriptions; a later description of the same
// file replaces the earlier one.
func (r *run) addFigures(figs []extract.Figure) {
	for _, f := range figs {
		replaced := false
		for i := range r.figures {
			if r.figures[i].File == f.File {
				r.figures[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			r.figures = append(r.figures, f)
		}
	}
}

func figureNotice(figs []extract.Figure) string {
	names := make([]string, 0, len(figs))
	for _, f := range figs {
		names = append(names, f.File)
	}
	return "the descriptions of " + strings.Join(names, ", ") + " were recorded for the report. " +
		"Now send the next code step, or action: analysis_complete if the request is answered."
}

func extractionNotice(err error) string {
	if errors.Is(err, extract.ErrAmbiguousCode) {
		return "your previous reply contained more than one code block. Send exactly one fenced yaml block with the code."
	}
	return "your previous reply contained no code block. Send exactly one fenced yaml block with action, reasoning and code."
}

// execute runs the reply's code and appends the round. It returns false
// when the loop must stop before executing.
func (a *Analyzer) execute(ctx context.Context, r *run, stage prompt.Stage, reply extract.Reply) (session.Round, bool) {
	if err := ctx.Err(); err != nil {
		r.stopErr = err
		return session.Round{}, false
	}

	out := a.executor.Execute(ctx, reply.Code, r.sess.Namespace, r.sess)
	round, err := r.sess.Append(session.Round{
		Stage:     string(stage),
		Code:      reply.Code,
		Outcome:   out,
		Summary:   a.formatter.Format(out),
		Reasoning: reply.Reasoning,
	})
	if err != nil {
		r.logger.Warn("persist round", "round", round.Seq, "error", err)
	}

	if out.OK() {
		r.succeeded++
		r.logger.Info("execution succeeded", "round", round.Seq, "state", r.state,
			"new_vars", len(out.NewVars), "artifacts", out.NewArtifacts, "duration", out.Duration)
	} else {
		r.failures++
		r.logger.Info("execution failed", "round", round.Seq, "state", r.state,
			"kind", out.Failure.Kind, "category", out.Failure.Category(), "message", out.Failure.Message)
	}

	if a.observer != nil {
		p := Progress{
			SessionID: r.sess.ID,
			State:     r.state,
			Seq:       round.Seq,
			MaxRounds: r.maxRounds,
			OK:        out.OK(),
			Charts:    len(r.sess.Artifacts()),
			Elapsed:   time.Since(r.start),
		}
		if r.thread != prompt.StageExplore {
			p.Round = r.used + 1
		}
		if !out.OK() {
			p.Kind = out.Failure.Kind
		}
		a.observer.RoundDone(p)
	}
	return round, true
}
