package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/kylegalloway/dataflame/internal/chart"
)

// Workspace gives an execution access to the session's files.
type Workspace interface {
	// DataDir holds the input files; reads are confined to it.
	DataDir() string
	// ChartDir receives chart images; files appearing here become artifacts.
	ChartDir() string
}

// ChartRenderer draws a chart spec to a file.
type ChartRenderer interface {
	Render(spec chart.Spec, path string) error
}

// Options configures an Executor.
type Options struct {
	AllowedModules []string
	DeniedCalls    []string
	Timeout        time.Duration
	MaxSteps       uint64
	MaxStdoutBytes int
	Charts         ChartRenderer
	Logger         *slog.Logger
}

// Executor runs code fragments against a persistent Namespace under the
// import allow-list, the denied-call list, and a wall-clock timeout.
type Executor struct {
	opts    Options
	policy  policy
	modules map[string]*starlarkstruct.Module
	logger  *slog.Logger
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

const (
	localWorkspace = "dataflame.workspace"
	localCharts    = "dataflame.charts"
)

// NewExecutor builds an Executor exposing only the allowed modules.
func NewExecutor(opts Options) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxStdoutBytes <= 0 {
		opts.MaxStdoutBytes = 64 * 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	all := builtinModules()
	modules := make(map[string]*starlarkstruct.Module)
	for _, name := range opts.AllowedModules {
		if m, ok := all[name]; ok {
			modules[name] = m
		}
	}
	allowed := make([]string, 0, len(modules))
	for name := range modules {
		allowed = append(allowed, name)
	}

	return &Executor{
		opts:    opts,
		policy:  newPolicy(allowed, opts.DeniedCalls),
		modules: modules,
		logger:  logger,
	}
}

// Modules lists the importable module names.
func (e *Executor) Modules() []string {
	names := make([]string, 0, len(e.modules))
	for name := range e.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs code against ns. Faults in the code never surface as Go
// errors: every outcome, including policy rejection and timeout, is
// reported through the returned Outcome.
//
// A rejected fragment never runs and leaves ns untouched. A timed-out
// fragment is rolled back: ns is restored and new chart files removed.
// Other runtime failures keep the bindings made before the fault, as a
// notebook cell would.
//
// Cancellation of ctx is only observed before execution starts.
func (e *Executor) Execute(ctx context.Context, code string, ns *Namespace, ws Workspace) Outcome {
	start := time.Now()
	out := e.execute(ctx, code, ns, ws)
	out.Duration = time.Since(start)

	if out.OK() {
		e.logger.Debug("execution succeeded", "new_vars", len(out.NewVars), "artifacts", len(out.NewArtifacts), "duration", out.Duration)
	} else {
		e.logger.Debug("execution failed", "kind", out.Failure.Kind, "message", out.Failure.Message, "duration", out.Duration)
	}
	return out
}

func (e *Executor) execute(ctx context.Context, code string, ns *Namespace, ws Workspace) Outcome {
	if err := ctx.Err(); err != nil {
		return failed(KindTimeout, fmt.Sprintf("execution not started: %v", err), "")
	}
	if !utf8.ValidString(code) {
		return failed(KindSyntax, "code is not valid UTF-8", "")
	}

	src, f := e.policy.rewriteImports(code)
	if f != nil {
		return Outcome{Failure: f}
	}
	file, err := fileOptions.Parse("cell.star", src, 0)
	if err != nil {
		return Outcome{Failure: classify(err)}
	}
	if f := e.policy.checkTree(file); f != nil {
		return Outcome{Failure: f}
	}

	before := ns.snapshot()
	saved := ns.clone()
	chartsBefore := listCharts(ws.ChartDir())

	globals := make(starlark.StringDict, len(e.modules)+ns.Len())
	for name, m := range e.modules {
		globals[name] = m
	}
	for name, v := range ns.vars {
		globals[name] = v
	}

	stdout := &boundedBuffer{max: e.opts.MaxStdoutBytes}
	thread := &starlark.Thread{
		Name:  "cell",
		Print: stdout.print,
		Load:  e.load,
	}
	thread.SetLocal(localWorkspace, ws)
	thread.SetLocal(localCharts, e.opts.Charts)
	if e.opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.opts.MaxSteps)
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(e.opts.Timeout, func() {
		timedOut.Store(true)
		thread.Cancel(fmt.Sprintf("exceeded %v", e.opts.Timeout))
	})
	panicked, err := run(file, thread, globals)
	timer.Stop()

	if err != nil {
		failure := classify(err)
		if timedOut.Load() {
			failure.Kind = KindTimeout
			failure.Message = fmt.Sprintf("execution exceeded the %v time limit", e.opts.Timeout)
		}
		out := Outcome{Stdout: stdout.String(), Failure: failure}
		removeNewCharts(ws.ChartDir(), chartsBefore)
		if failure.Kind == KindTimeout || panicked {
			ns.restore(saved)
			return out
		}
		e.commit(ns, globals)
		return out
	}

	e.commit(ns, globals)
	out := Outcome{Stdout: stdout.String()}
	for _, name := range ns.changedSince(before) {
		out.NewVars = append(out.NewVars, describe(name, ns.vars[name]))
	}
	out.NewArtifacts = newCharts(ws.ChartDir(), chartsBefore)
	return out
}

// run executes the parsed file, converting a Go panic inside a builtin
// into an error so a broken fragment can never take the process down.
func run(file *syntax.File, thread *starlark.Thread, globals starlark.StringDict) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("internal error during execution: %v", r)
		}
	}()
	return false, starlark.ExecREPLChunk(file, thread, globals)
}

// commit copies the execution's globals back into ns, skipping module
// bindings that were only provided.
func (e *Executor) commit(ns *Namespace, globals starlark.StringDict) {
	next := make(starlark.StringDict, len(globals))
	for name, v := range globals {
		if m, ok := e.modules[name]; ok && v == starlark.Value(m) {
			if _, bound := ns.vars[name]; !bound {
				continue
			}
		}
		next[name] = v
	}
	ns.vars = next
}

func (e *Executor) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	m, ok := e.modules[module]
	if !ok {
		return nil, fmt.Errorf("%w: module %q is not on the allow-list", ErrPolicy, module)
	}
	return m.Members, nil
}

type boundedBuffer struct {
	b         strings.Builder
	max       int
	truncated bool
}

func (w *boundedBuffer) print(_ *starlark.Thread, msg string) {
	if w.truncated {
		return
	}
	line := msg + "\n"
	if remaining := w.max - w.b.Len(); len(line) > remaining {
		w.b.WriteString(strings.ToValidUTF8(line[:remaining], ""))
		w.truncated = true
		return
	}
	w.b.WriteString(line)
}

func (w *boundedBuffer) String() string {
	if w.truncated {
		return w.b.String() + "\n[stdout limit reached]\n"
	}
	return w.b.String()
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

func listCharts(dir string) map[string]fileStamp {
	stamps := make(map[string]fileStamp)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return stamps
	}
	for _, entry := range entries {
		if entry.IsDir() || !isChartFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stamps[entry.Name()] = fileStamp{size: info.Size(), modTime: info.ModTime()}
	}
	return stamps
}

// newCharts lists chart files created or rewritten since the before listing.
func newCharts(dir string, before map[string]fileStamp) []string {
	var names []string
	for name, stamp := range listCharts(dir) {
		if prev, ok := before[name]; !ok || prev != stamp {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func removeNewCharts(dir string, before map[string]fileStamp) {
	for name := range listCharts(dir) {
		if _, ok := before[name]; !ok {
			os.Remove(filepath.Join(dir, name))
		}
	}
}

func isChartFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".svg":
		return true
	}
	return false
}
