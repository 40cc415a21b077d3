// Package gateway exposes the voice-ordering service over HTTP: session
// lifecycle endpoints for the point-of-sale UI and a per-session WebSocket
// that relays transcript, order and submission events as they happen.
//
// The gateway owns no ordering state. Every mutation goes through the
// session manager; the WebSocket stream is a read-only projection.
package gateway
