package job

import (
	"context"
	"encoding/json"
	"fmt"

	"docrag/src/log"
)

// RunStep executes fn once per (job, step name). When the step log already
// holds an output for the pair, it is decoded and returned without calling fn.
func RunStep[T any](ctx context.Context, steps StepLog, jobID int64, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T

	raw, ok, err := steps.Load(ctx, jobID, name)
	if err != nil {
		return out, fmt.Errorf("failed to load step %s: %w", name, err)
	}
	if ok {
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("failed to decode step %s: %w", name, err)
		}
		log.Debug("Step replayed from log", "job_id", jobID, "step", name)
		return out, nil
	}

	out, err = fn(ctx)
	if err != nil {
		return out, err
	}

	raw, err = json.Marshal(out)
	if err != nil {
		return out, fmt.Errorf("failed to encode step %s: %w", name, err)
	}
	if err := steps.Save(ctx, jobID, name, raw); err != nil {
		return out, fmt.Errorf("failed to save step %s: %w", name, err)
	}
	return out, nil
}
