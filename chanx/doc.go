// Package chanx provides context-aware stream primitives built on channels.
//
// Every blocking call takes a [context.Context] and every goroutine started
// here ends when its context is cancelled or its input closes.
//
//   - [Send] and [Recv]: channel operations that unblock on cancellation.
//   - [Source]: a pull-based stream that can end with an error; [FromChan]
//     adapts a plain channel.
//   - [Closable]: a channel with idempotent close, panic-free send and a
//     close error.
//   - [Debouncer], [Debounce] and [DebounceSource]: order-preserving rate
//     limiting that never drops a value.
//   - [Broadcaster]: one-to-many delivery with a per-subscriber buffer and
//     an [Overflow] policy.
//   - [Map], [Filter] and [OfType]: pipeline stages.
package chanx
