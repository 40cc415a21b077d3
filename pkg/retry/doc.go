// Package retry provides exponential backoff retry logic for transient
// failures in the voice-ordering pipeline: fetching session credentials and
// posting order submissions.
//
// Basic retry with defaults:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Submit(ctx, req)
//	})
//
// Retry with a result:
//
//	creds, err := retry.DoWithResult(ctx, retry.Quick(), func() (*Credentials, error) {
//	    return provider.SessionCredentials(ctx, restaurantID)
//	})
//
// Errors wrapped with NonRetryable abort immediately; everything else is
// retried up to MaxAttempts. All operations respect context cancellation,
// both mid-attempt and during backoff sleeps.
package retry
