// Package aggregator consumes raw data channel messages and produces typed
// transcript and function-call events. It is the only component that holds
// per-item streaming state: transcript text accumulated across deltas and
// function-call argument text accumulated until the done event.
//
// Processing is single-threaded and strictly in arrival order. Feed must be
// called from one goroutine — in production that is the transport's message
// callback, which pion invokes sequentially for an ordered channel. Each
// Feed call synchronously emits zero or one event.
//
// The handler never drops a delta whose creation event was lost. If a delta
// references an unseen item_id or call_id, the entry is created lazily with
// default state. Losing the first messages after channel open is a known
// transport hazard, and dropping the delta here would silently discard
// customer intent.
package aggregator
