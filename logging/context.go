package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugLogKeyType int

const debugLogKey = debugLogKeyType(iota)

// EnableDebugModeWithKey returns a new context with debug logging state attached. An empty
// `debugLogKey` generates a random value.
func EnableDebugModeWithKey(ctx context.Context, debugLogKeyValue string) context.Context {
	if debugLogKeyValue == "" {
		debugLogKeyValue = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugLogKey, debugLogKeyValue)
}

// IsDebugMode returns whether the input context has debug logging enabled.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the debug log key included when enabling the context for debug logging.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	valI := ctx.Value(debugLogKey)
	if val, ok := valI.(string); ok {
		return val
	}
	return ""
}
