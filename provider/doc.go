// Package provider defines the wire-level event shapes emitted by the
// realtime conversational-AI provider over the session data channel, and the
// client events this service sends back. Only the event types the ordering
// pipeline consumes are modeled; everything else parses into an envelope with
// an unrecognized type and is ignored upstream.
//
// The package is deliberately stateless: it parses one message into one
// tagged envelope. Transcript and function-call accumulation across events
// lives in package aggregator.
package provider
