package pipeline

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one company to run.
type Job struct {
	Company string `yaml:"company" json:"company"`
	IRURL   string `yaml:"ir_url" json:"ir_url"`
}

// BatchResult pairs a job with its report or error.
type BatchResult struct {
	Job    Job
	Report *RunReport
	Err    error
}

// RunBatch runs distinct companies in parallel, at most limit at a time. A failed
// company does not stop the others; results keep the order of jobs.
func (o *Orchestrator) RunBatch(ctx context.Context, jobs []Job, limit int) []BatchResult {
	if limit <= 0 {
		limit = 1
	}
	results := make([]BatchResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			id := job.Company
			if id == "" {
				derived, err := DeriveCompanyID(job.IRURL)
				if err != nil {
					results[i] = BatchResult{Job: job, Err: err}
					return nil
				}
				id = derived
			}
			report, err := o.run(gctx, uuid.NewString(), id, job.IRURL)
			if err != nil {
				o.Logger.Warn("company run failed", zap.String("company", id), zap.Error(err))
			}
			job.Company = id
			results[i] = BatchResult{Job: job, Report: report, Err: err}
			return nil // one company never cancels the rest
		})
	}
	_ = g.Wait()
	return results
}

// Start runs a company in the background and returns its run id. The lock is taken
// before returning, so a concurrent run is reported immediately.
func (o *Orchestrator) Start(ctx context.Context, companyID, irURL string) (string, error) {
	release, err := o.acquire(ctx, companyID)
	if err != nil {
		return "", err
	}
	runID := uuid.NewString()
	o.Tracker.Start(companyID, runID, irURL, o.Now().UTC())
	go func() {
		if _, err := o.runLocked(context.WithoutCancel(ctx), runID, companyID, irURL, release); err != nil {
			o.Logger.Warn("background run failed", zap.String("company", companyID), zap.Error(err))
		}
	}()
	return runID, nil
}
