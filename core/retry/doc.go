// Package retry provides the single retry policy used by the sync engine.
//
// A Policy bundles the attempt ceiling, the backoff function and the
// retryable-error predicate so call sites only describe the operation:
//
//	policy := retry.Policy{
//	    MaxAttempts: 3,
//	    Backoff:     retry.Exponential(500*time.Millisecond, 30*time.Second, 2),
//	    Retryable:   client.IsTransient,
//	}
//	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
//	    return api.Submit(ctx, records)
//	})
package retry
