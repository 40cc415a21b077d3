// Package errors provides standardized error handling for the voice-ordering
// pipeline. It defines the four error families the pipeline distinguishes
// (transport, protocol, match, submission), classifies each as transient,
// invalid, or fatal for the session, and offers helpers for consistent
// error wrapping across components.
//
// # Error Families
//
//   - Transport: connection, ICE, or signaling failure. Terminal for the
//     session; reported once, never silently retried.
//   - Protocol: a malformed or unexpected provider event. Terminal for the
//     session, because replaying deltas against a fresh session risks
//     applying state from a stale key.
//   - Match: the menu catalog is empty or unavailable. Fatal and fail-fast;
//     a low-confidence item match is NOT an error, it is a normal unmatched
//     outcome.
//   - Submission: a network or validation failure while submitting an order.
//     Recoverable: the draft stays intact and a retry reuses the same
//     idempotency key.
//
// # Wrapping Convention
//
// All components wrap errors with Wrap or one of the classified variants,
// producing messages of the form "component.method: action failed: <cause>":
//
//	if err := c.submit(ctx, req); err != nil {
//	    return errors.WrapTransient(err, "order_client", "Submit", "post order")
//	}
package errors
