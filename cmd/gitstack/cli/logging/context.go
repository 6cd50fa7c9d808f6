package logging

import (
	"context"
)

// Context keys for logging values.
// Using private types to avoid key collisions.
type contextKey int

const (
	operationKey contextKey = iota
	dryRunKey
	componentKey
)

// WithOperation adds the current operation name (e.g. "rebase", "push",
// "amend") to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

// WithDryRun records whether the current operation is running in dry-run
// mode, so log lines can be filtered or annotated accordingly.
func WithDryRun(ctx context.Context, dryRun bool) context.Context {
	return context.WithValue(ctx, dryRunKey, dryRun)
}

// WithComponent adds a component name to the context, identifying the
// subsystem generating logs (e.g. "planner", "executor", "pushgate").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// OperationFromContext extracts the operation name from the context.
// Returns empty string if not set.
func OperationFromContext(ctx context.Context) string {
	if v := ctx.Value(operationKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// DryRunFromContext extracts the dry-run flag from the context.
// Returns false if not set.
func DryRunFromContext(ctx context.Context) bool {
	if v := ctx.Value(dryRunKey); v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// ComponentFromContext extracts the component name from the context.
// Returns empty string if not set.
func ComponentFromContext(ctx context.Context) string {
	if v := ctx.Value(componentKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
