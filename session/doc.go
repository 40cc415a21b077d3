// Package session orchestrates one voice-ordering call end to end: it
// fetches ephemeral credentials and the menu context, builds the matcher
// before any network work (an unusable catalog fails the session here, not
// mid-conversation), wires the transport into the event handler, configures
// the provider with the restaurant's instructions and the add_to_order
// tool, and routes completed function calls through extraction and matching
// into the order draft.
//
// A Session is single-use. Explicit reconnects build a new Session; there
// is no silent retry loop hiding connection drops from the caller.
package session
