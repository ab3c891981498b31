package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kylegalloway/dataflame/internal/extract"
	"github.com/kylegalloway/dataflame/internal/prompt"
	"github.com/kylegalloway/dataflame/internal/report"
	"github.com/kylegalloway/dataflame/internal/session"
)

// finish runs the Report state: it obtains the report text, checks its
// chart references, renders it and moves to Done.
func (a *Analyzer) finish(ctx context.Context, r *run) (*Result, error) {
	res := &Result{
		SessionID: r.sess.ID,
		Dir:       r.sess.Dir,
		Rounds:    r.analyzed,
		Attempts:  len(r.sess.Rounds()),
		Failures:  r.failures,
		Abandoned: r.abandoned,
		Cancelled: errors.Is(r.stopErr, context.Canceled) || errors.Is(r.stopErr, context.DeadlineExceeded),
	}
	a.writeCodeLog(r)

	if r.succeeded == 0 {
		cause := r.stopErr
		if cause == nil {
			cause = errNoSuccess
		}
		r.logger.Error("analysis produced no result", "rounds", res.Attempts, "error", cause)
		return nil, &AnalysisError{SessionID: r.sess.ID, Rounds: res.Attempts, Err: cause}
	}

	markdown, fallback := a.reportText(ctx, r)
	checked := report.Check(markdown, r.sess.Artifacts())
	for _, err := range checked.Errors() {
		r.logger.Warn("dropped report reference", "round", r.used, "state", r.state, "error", err)
	}

	out, err := a.renderer(r.sess.Dir).Render(checked.Markdown, checked.Referenced)
	if err != nil {
		r.logger.Error("render report", "error", err)
		return nil, &AnalysisError{SessionID: r.sess.ID, Rounds: res.Attempts, Err: fmt.Errorf("render report: %w", err)}
	}

	ref := session.ReportRef{
		MarkdownPath: out.MarkdownPath,
		DocumentPath: out.DocumentPath,
		Artifacts:    checked.Referenced,
		Fallback:     fallback,
	}
	if err := r.sess.SetReport(ref); err != nil {
		r.logger.Warn("persist report reference", "error", err)
	}
	a.transition(r, StateDone, "")

	res.Report = ref
	res.Artifacts = r.sess.Artifacts()
	res.Dropped = checked.Dropped
	res.Duration = time.Since(r.start)
	r.logger.Info("analysis finished", "rounds", res.Rounds, "failures", res.Failures,
		"charts", len(res.Artifacts), "report", ref.MarkdownPath, "fallback", fallback, "duration", res.Duration)
	return res, nil
}

// reportText asks the model for the report. When the model cannot be
// used, the report is assembled from the round log and fallback is true.
func (a *Analyzer) reportText(ctx context.Context, r *run) (markdown string, fallback bool) {
	reason := ""
	switch {
	case r.stopErr != nil && (errors.Is(r.stopErr, context.Canceled) || errors.Is(r.stopErr, context.DeadlineExceeded)):
		reason = errCancelled.Error()
	case r.stopErr != nil:
		reason = fmt.Sprintf("the model service failed (%v)", r.stopErr)
	case ctx.Err() != nil:
		reason = errCancelled.Error()
	default:
		text, err := a.client.Complete(ctx, a.prompts.Build(a.input(r, prompt.StageReport)))
		if err == nil {
			md, err := extract.Report(text)
			if err == nil {
				return md, false
			}
			r.logger.Warn("model returned an empty report", "error", err)
			reason = "the model returned an empty report"
		} else {
			r.logger.Warn("report request failed", "error", err)
			reason = fmt.Sprintf("the model service failed (%v)", err)
		}
	}

	r.logger.Info("assembling fallback report", "reason", reason)
	return report.Fallback(report.FallbackInput{
		Request:   r.sess.Request,
		Rounds:    r.sess.Rounds(),
		Artifacts: r.sess.Artifacts(),
		Reason:    reason,
	}), true
}

func (a *Analyzer) writeCodeLog(r *run) {
	path, err := r.sess.WriteCodeLog()
	if err != nil {
		r.logger.Warn("write code log", "error", err)
		return
	}
	r.logger.Debug("code log written", "path", path)
}
