package workflow

import (
	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/pkg/tplengine"
)

// CacheKey derives the cache key for a step execution. When the step declares
// a custom key template it is rendered against the execution context;
// otherwise the key is a hash over the step identity, its declared inputs and
// the workflow execution inputs, so identical invocations collide and
// different inputs never do.
func CacheKey(step *Step, executionInputs core.Input, execCtx map[string]any) string {
	if step.Cache.Key != "" {
		return tplengine.New().Render(step.Cache.Key, execCtx)
	}
	return core.HashComponents(
		step.ID,
		string(step.Kind),
		string(core.StableJSONBytes(step.Inputs)),
		string(core.StableJSONBytes(map[string]any(executionInputs))),
	)
}
