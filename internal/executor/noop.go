package executor

import "context"

// Noop succeeds immediately. Templates use it for review and approval
// placeholders that have no automated work.
type Noop struct{}

func (Noop) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	req.ReportProgress(1)
	return JSONResult(map[string]string{"asset": req.AssetID, "step": req.StepID})
}
