package build

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"fortio.org/log"
	"golang.org/x/sync/errgroup"

	"github.com/ldemailly/buildgraph/graph"
)

// ResidualPolicy tells what to do with buildable modules whose priority was
// never resolved.
type ResidualPolicy int

const (
	ResidualLast    ResidualPolicy = iota // build them in a final stage
	ResidualExclude                       // count them as skipped
)

func (p ResidualPolicy) String() string {
	if p == ResidualExclude {
		return "exclude"
	}
	return "last"
}

// ParseResidualPolicy accepts "last" and "exclude".
func ParseResidualPolicy(s string) (ResidualPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return ResidualLast, nil
	case "exclude":
		return ResidualExclude, nil
	}
	return ResidualLast, fmt.Errorf("invalid residual policy %q (want last or exclude)", s)
}

// Options tune a Scheduler.
type Options struct {
	Workers       int // concurrent builds within a stage, runtime.NumCPU() when <= 0
	StopOnFailure bool
	Residual      ResidualPolicy
	Config        Config
}

// Result counts the outcome of every buildable module.
type Result struct {
	Succeeded int
	Failed    int
	Skipped   int
}

func (r Result) String() string {
	return fmt.Sprintf("%d succeeded, %d failed, %d skipped", r.Succeeded, r.Failed, r.Skipped)
}

// Stage is a set of mutually independent modules built together.
type Stage struct {
	Priority int
	Residual bool
	Modules  []*graph.Module // identity order
}

// Plan groups the buildable modules of reg by ascending priority. Modules
// carrying a circular marker, and unresolved ones under ResidualExclude, are
// returned separately and must not be built.
func Plan(reg *graph.Registry, residual ResidualPolicy) ([]Stage, []*graph.Module) {
	byPriority := make(map[int][]*graph.Module)
	var leftover, excluded []*graph.Module
	for _, m := range reg.Sorted() {
		if !m.Buildable() {
			continue
		}
		switch {
		case graph.IsCircular(m.Priority):
			excluded = append(excluded, m)
		case graph.IsResolved(m.Priority):
			byPriority[m.Priority] = append(byPriority[m.Priority], m)
		case residual == ResidualLast:
			leftover = append(leftover, m)
		default:
			excluded = append(excluded, m)
		}
	}
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)
	stages := make([]Stage, 0, len(priorities)+1)
	for _, p := range priorities {
		stages = append(stages, Stage{Priority: p, Modules: byPriority[p]})
	}
	if len(leftover) > 0 {
		stages = append(stages, Stage{Priority: graph.NotAnalysed, Residual: true, Modules: leftover})
	}
	return stages, excluded
}

// Scheduler builds the modules of an analysed registry.
type Scheduler struct {
	reg    *graph.Registry
	action Action
	obs    graph.Observer
	opts   Options

	// Metrics, when set, is updated as modules are built.
	Metrics *Metrics
}

func NewScheduler(reg *graph.Registry, action Action, obs graph.Observer, opts Options) *Scheduler {
	if obs == nil {
		obs = graph.Nop{}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Scheduler{reg: reg, action: action, obs: obs, opts: opts}
}

// buildRun holds the counters shared by the workers of one BuildAll call.
type buildRun struct {
	total     int
	index     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func (r *buildRun) next() int {
	return int(r.index.Add(1))
}

// BuildAll builds every stage in order, each stage being a barrier. With
// StopOnFailure no stage starts after one that had a failure. Context
// cancellation also stops before the next stage. Modules that were not built
// are reported with StatusBuildSkipped.
func (s *Scheduler) BuildAll(ctx context.Context) Result {
	stages, excluded := Plan(s.reg, s.opts.Residual)
	r := &buildRun{}
	for _, st := range stages {
		r.total += len(st.Modules)
	}
	r.total += len(excluded)
	log.Infof("Building %d modules in %d stages with %d workers", r.total, len(stages), s.opts.Workers)

	skipped := excluded
	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			log.Warnf("Build interrupted: %v", err)
			skipped = appendRemaining(skipped, stages[i:])
			break
		}
		if s.runStage(ctx, st, r) && s.opts.StopOnFailure {
			log.Warnf("Stopping after failure in stage %s", stageName(st))
			skipped = appendRemaining(skipped, stages[i+1:])
			break
		}
	}
	for _, m := range skipped {
		log.LogVf("Skipping %s (priority %s)", m.Identity(), graph.PriorityString(m.Priority))
		s.obs.Progress(graph.Event{Status: graph.StatusBuildSkipped, Name: m.Identity(), Index: r.next(), Total: r.total})
	}
	s.Metrics.skipped(len(skipped))

	res := Result{
		Succeeded: int(r.succeeded.Load()),
		Failed:    int(r.failed.Load()),
	}
	res.Skipped = r.total - res.Succeeded - res.Failed
	log.Infof("Build done: %s", res)
	return res
}

// runStage builds the members of st, at most Workers at a time, and reports
// whether any of them failed.
func (s *Scheduler) runStage(ctx context.Context, st Stage, r *buildRun) bool {
	log.Infof("Stage %s: %d modules", stageName(st), len(st.Modules))
	s.Metrics.stageStarted()
	var failed atomic.Bool
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, m := range st.Modules {
		g.Go(func() error {
			start := s.Metrics.buildStarted()
			err := s.action.Build(ctx, m, s.opts.Config)
			ev := graph.Event{Name: m.Identity(), Total: r.total}
			if err != nil {
				failed.Store(true)
				r.failed.Add(1)
				s.Metrics.buildDone(start, "failed")
				log.Errf("Build of %s failed: %v", m.Identity(), err)
				ev.Status, ev.Err = graph.StatusBuildFailed, err
			} else {
				r.succeeded.Add(1)
				s.Metrics.buildDone(start, "succeeded")
				log.LogVf("Built %s", m.Identity())
				ev.Status = graph.StatusBuildSucceeded
			}
			ev.Index = r.next()
			s.obs.Progress(ev)
			return nil // a failed build is a result, not an error
		})
	}
	_ = g.Wait()
	return failed.Load()
}

func appendRemaining(dst []*graph.Module, stages []Stage) []*graph.Module {
	for _, st := range stages {
		dst = append(dst, st.Modules...)
	}
	return dst
}

func stageName(st Stage) string {
	if st.Residual {
		return "residual"
	}
	return fmt.Sprintf("%d", st.Priority)
}
