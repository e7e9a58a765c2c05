package dispatcher

import "context"

// QuotaGate is the yes/no billing gate consulted before a runtime
// invocation. Enforcement and accounting live outside this engine.
type QuotaGate interface {
	// WithinQuota reports whether the organization may execute another
	// workflow run.
	WithinQuota(ctx context.Context, organizationID string) (bool, error)
}

// UnlimitedQuota admits every execution. Used when no billing gate is
// configured.
type UnlimitedQuota struct{}

func (UnlimitedQuota) WithinQuota(_ context.Context, _ string) (bool, error) {
	return true, nil
}
