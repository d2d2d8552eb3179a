package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediaflow/internal/executor"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

type job struct {
	exec    executor.Executor
	timeout time.Duration
	req     executor.Request
}

type execOutcome struct {
	result executor.Result
	err    error
}

// runStep waits for a dispatch slot, runs the executor under the step
// timeout, and posts the outcome to the actor. Nothing is posted when the
// step context is cancelled.
func (o *Orchestrator) runStep(ctx context.Context, cancel context.CancelFunc, a *actor, j job) {
	defer o.dispatches.Done()
	defer cancel()

	if o.sem != nil {
		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-o.sem }()
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}
	}
	if a.halted() {
		return
	}

	stepID, attempt := j.req.StepID, j.req.Attempt
	stepCtx := services.WithWorkflowID(ctx, j.req.WorkflowID)
	stepCtx = services.WithStepID(stepCtx, stepID)
	stepCtx = services.WithAssetID(stepCtx, j.req.AssetID)
	stop := context.CancelFunc(func() {})
	if j.timeout > 0 {
		stepCtx, stop = context.WithTimeout(stepCtx, j.timeout)
	}
	defer stop()

	sampler := logging.NewProgressSampler(1)
	j.req.Progress = func(f float64) {
		if a.tr.ReportProgress(stepID, attempt, f) && sampler.Allow(f*100) {
			a.tryPost(progressMsg{step: stepID, attempt: attempt, fraction: f})
		}
	}

	done := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execOutcome{err: executor.Permanent(fmt.Errorf("executor panic: %v", r))}
			}
		}()
		res, err := j.exec.Execute(stepCtx, j.req)
		done <- execOutcome{result: res, err: err}
	}()

	msg := resultMsg{step: stepID, attempt: attempt}
	select {
	case out := <-done:
		msg.payload, msg.err = out.result.Payload, out.err
	case <-stepCtx.Done():
	}
	switch err := stepCtx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		msg.payload = nil
		msg.err = executor.Timeout(fmt.Errorf("step timed out after %s", j.timeout))
	case err != nil:
		return
	}
	a.post(msg)
}
