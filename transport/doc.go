// Package transport owns the WebRTC peer connection to the realtime
// provider and the data channel carrying protocol events.
//
// Construction is atomic: New creates the peer connection, creates the data
// channel, and attaches the message, open, close, and error handlers in the
// same call, before any SDP exchange can happen. The channel therefore
// cannot reach a deliverable state without its consumer wired — a channel
// flushing buffered messages 50-100ms after open would otherwise drop the
// session-initialization and first item-created events.
//
// Failure semantics: connection establishment has a hard timeout and a
// timeout is terminal. The transport transitions to StateError, reports the
// error exactly once, and stays down until the caller builds a replacement
// transport. There is no silent auto-retry; retrying without caller
// awareness risks mixing two audio contexts.
package transport
