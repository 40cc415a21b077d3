// Package order owns the order draft: the authoritative list of extracted
// items for one voice session, the submission state machine, and the single
// allowed path to the external order-submission API.
//
// The draft enforces three hard rules learned from production incidents:
//
//   - One submission in flight. A Submit while another is pending does not
//     start a second API call; it waits on and returns the in-flight
//     result. The submission state is the guard — UI button disabling is a
//     convenience on top, never the mechanism.
//   - No premature clearing. A failed submission returns the draft to idle
//     with every item intact. Only a confirmed accepted response clears
//     items, and it clears exactly the snapshot that was submitted — items
//     added while the call was in flight survive.
//   - One idempotency key per draft, reused across retries of the same
//     logical submission, so a retry after a lost response cannot create a
//     duplicate order even if the local guard were bypassed.
package order
