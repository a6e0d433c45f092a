package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dgallion1/designdoc/internal/summarize"
)

// Worker processes a single run job.
type Worker struct {
	runner *Runner
	log    *slog.Logger
}

func NewWorker(runner *Runner, log *slog.Logger) *Worker {
	return &Worker{runner: runner, log: log}
}

// Process runs the full pipeline for a job, mirroring stage changes into the
// job status.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "locator", job.Locator)

	job.SetStatus(StatusEstimating, "estimating")
	hooks := summarize.Hooks{
		OnLeaf: job.RecordLeaf,
		OnStage: func(stage string, level, _ int) {
			switch stage {
			case summarize.StageMap:
				job.SetStatus(StatusMapping, "mapping")
			case summarize.StageCollapse:
				job.SetCollapseLevel(level + 1)
				job.SetStatus(StatusCollapsing, fmt.Sprintf("collapse level %d", level+1))
			case summarize.StageReduce:
				job.SetStatus(StatusReducing, "reducing")
			}
		},
	}
	withinLimit := MaxCostConfirm(job.MaxCost)
	confirm := func(ctx context.Context, est CostEstimate) (bool, error) {
		job.SetEstimate(est)
		return withinLimit(ctx, est)
	}

	res, err := w.runner.Run(ctx, Request{
		Locator:   job.Locator,
		OutputDir: filepath.Join(w.runner.cfg.OutputDir, job.ID),
		Confirm:   confirm,
		Hooks:     hooks,
		HTML:      job.HTML,
	})
	job.SetResult(res)

	switch {
	case errors.Is(err, ErrNotConfirmed):
		est := res.Estimate
		log.Info("run rejected by cost limit", "dollars", est.Dollars, "max_cost", job.MaxCost)
		job.AddError(fmt.Sprintf("estimated cost $%.4f exceeds max_cost $%.4f", est.Dollars, job.MaxCost))
		job.SetStatus(StatusRejected, "confirm")
	case err != nil:
		log.Error("run failed", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, job.Snapshot().Phase)
	default:
		log.Info("run complete", "design_path", res.DesignPath)
		job.SetStatus(StatusCompleted, "done")
	}
}
