// Package voiceorder is a realtime voice-ordering backend for restaurant
// platforms. It connects point-of-sale sessions to a realtime speech
// provider over WebRTC, assembles streamed transcripts and function calls
// into typed events, matches spoken items against the restaurant's menu,
// and manages the order draft through submission and kitchen announcement.
//
// See the package documentation of session, transport, aggregator, menu,
// order and gateway for the individual stages of the pipeline.
package voiceorder
