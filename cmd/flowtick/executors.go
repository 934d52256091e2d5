package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/flowtick/pkg/api"
)

// builtinExecutors are the agent types the CLI can run on its own.
// Services embedding the scheduler register their real agents instead.
func builtinExecutors() map[string]api.Executor {
	return map[string]api.Executor{
		// echo returns its instruction and records it in the run context
		// under the step ID.
		"echo": func(ctx context.Context, in api.ExecutorInput) (api.ExecutorResult, error) {
			return api.ExecutorResult{
				Output:       in.Instruction,
				ContextPatch: map[string]any{in.StepID: in.Instruction},
			}, nil
		},
		// sleep waits for the duration given as its instruction.
		"sleep": func(ctx context.Context, in api.ExecutorInput) (api.ExecutorResult, error) {
			d, err := time.ParseDuration(in.Instruction)
			if err != nil {
				return api.ExecutorResult{}, fmt.Errorf("sleep: %w", err)
			}
			select {
			case <-time.After(d):
				return api.ExecutorResult{Output: d.String()}, nil
			case <-ctx.Done():
				return api.ExecutorResult{}, ctx.Err()
			}
		},
		// fail always fails with its instruction as the message.
		"fail": func(ctx context.Context, in api.ExecutorInput) (api.ExecutorResult, error) {
			msg := in.Instruction
			if msg == "" {
				msg = "step failed"
			}
			return api.ExecutorResult{}, errors.New(msg)
		},
	}
}
