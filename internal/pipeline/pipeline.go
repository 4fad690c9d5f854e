// Package pipeline sequences the build steps that turn upstream engine
// sources into a customized editor binary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"git.home.luguber.info/inful/enginesmith/internal/history"
	"git.home.luguber.info/inful/enginesmith/internal/logfields"
	"github.com/google/uuid"
)

var (
	// ErrToolFailed signals a non-zero exit from an invoked external tool.
	// Fatal; there is no retry.
	ErrToolFailed = errors.New("external tool failed")

	// ErrMissingArtifact signals an expected input or output file that is
	// absent. Fatal when the artifact is critical.
	ErrMissingArtifact = errors.New("expected artifact missing")
)

// State is threaded through each step of one orchestrator run. It is not
// persisted; only the resulting registry record survives the run.
type State struct {
	CurrentStep int
	TotalSteps  int
	BuildID     string
	SourceDir   string
	VersionTag  string
	VariantName string
	NewBuild    bool
}

// StepFunc executes one pipeline step against the shared state.
type StepFunc func(ctx context.Context, state *State) error

// Step is one named stage of the pipeline.
type Step struct {
	Name string
	Run  StepFunc
	// NewBuildOnly steps are removed from the plan when reusing an
	// existing build directory.
	NewBuildOnly bool
}

// Orchestrator executes steps strictly in order, aborting the whole run on
// the first failure. Partial artifacts are left in place for inspection.
type Orchestrator struct {
	steps   []Step
	state   State
	history *history.Store
}

// NewOrchestrator creates an orchestrator over the given steps. newBuild
// selects the clone-new-version flow; otherwise an existing build directory
// is reused and new-build-only steps are skipped.
func NewOrchestrator(steps []Step, newBuild bool) *Orchestrator {
	o := &Orchestrator{steps: steps}
	o.state.NewBuild = newBuild
	return o
}

// WithHistory attaches a run history store (fluent helper).
func (o *Orchestrator) WithHistory(store *history.Store) *Orchestrator {
	o.history = store
	return o
}

// State exposes the pipeline state, mainly for inspection after a run.
func (o *Orchestrator) State() *State {
	return &o.state
}

// plan returns the steps that will actually execute for this run.
func (o *Orchestrator) plan() []Step {
	if o.state.NewBuild {
		return o.steps
	}
	planned := make([]Step, 0, len(o.steps))
	for _, s := range o.steps {
		if s.NewBuildOnly {
			continue
		}
		planned = append(planned, s)
	}
	return planned
}

// Run executes the pipeline. The returned error names the failed step; any
// failure is terminal for the run.
func (o *Orchestrator) Run(ctx context.Context) error {
	plan := o.plan()
	o.state.CurrentStep = 0
	o.state.TotalSteps = len(plan)

	runID := uuid.NewString()
	o.recordRunStart(ctx, runID)
	started := time.Now()

	recordedBuild := false
	for _, step := range plan {
		o.state.CurrentStep++
		pct := progressPercent(o.state.CurrentStep, o.state.TotalSteps)
		slog.Info("Step starting", logfields.RunID(runID), logfields.Step(step.Name),
			slog.String("progress", fmt.Sprintf("%d/%d (%d%%)", o.state.CurrentStep, o.state.TotalSteps, pct)))
		o.recordStep(ctx, runID, step.Name, history.EventStepStarted, "")

		if err := step.Run(ctx, &o.state); err != nil {
			o.recordStep(ctx, runID, step.Name, history.EventStepFailed, err.Error())
			o.recordRunFinish(ctx, runID, history.OutcomeAborted)
			return fmt.Errorf("step %s failed: %w", step.Name, err)
		}

		o.recordStep(ctx, runID, step.Name, history.EventStepCompleted, "")
		if !recordedBuild && o.state.BuildID != "" {
			o.recordRunBuild(ctx, runID)
			recordedBuild = true
		}
	}

	o.recordRunFinish(ctx, runID, history.OutcomeCompleted)
	slog.Info("Pipeline completed", logfields.RunID(runID), logfields.BuildID(o.state.BuildID),
		logfields.DurationMS(float64(time.Since(started).Milliseconds())))
	return nil
}

// progressPercent derives the observational progress percentage.
func progressPercent(current, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}

// History recording is best effort: a failure to persist observability data
// never aborts the build itself.

func (o *Orchestrator) recordRunStart(ctx context.Context, runID string) {
	if o.history == nil {
		return
	}
	if err := o.history.StartRun(ctx, runID, o.state.BuildID); err != nil {
		slog.Warn("Failed to record run start", logfields.RunID(runID), logfields.Error(err))
	}
}

func (o *Orchestrator) recordRunBuild(ctx context.Context, runID string) {
	if o.history == nil {
		return
	}
	if err := o.history.SetRunBuildID(ctx, runID, o.state.BuildID); err != nil {
		slog.Warn("Failed to record run build identity", logfields.RunID(runID), logfields.Error(err))
	}
}

func (o *Orchestrator) recordRunFinish(ctx context.Context, runID, outcome string) {
	if o.history == nil {
		return
	}
	if err := o.history.FinishRun(ctx, runID, outcome); err != nil {
		slog.Warn("Failed to record run finish", logfields.RunID(runID), logfields.Error(err))
	}
}

func (o *Orchestrator) recordStep(ctx context.Context, runID, step, eventType, detail string) {
	if o.history == nil {
		return
	}
	if err := o.history.AppendStep(ctx, runID, step, eventType, detail); err != nil {
		slog.Warn("Failed to record step event", logfields.RunID(runID), logfields.Step(step), logfields.Error(err))
	}
}
