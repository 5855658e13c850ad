// Package session owns the live conversations between the bot and humans.
//
// # Overview
//
// A Session binds one platform thread to one agent.Handle. Sessions live in
// a Registry keyed by thread ID; the Registry is the only place they are
// stored and the only shared mutable state in the package.
//
// # Registry
//
// GetOrCreate is atomic per thread: concurrent callers for the same thread
// run the factory once and all observe the same Session. Exactly one of
// them sees wasCreated. A failing factory inserts nothing.
//
//	s, created, err := reg.GetOrCreate(ctx, threadID, factory)
//
// # Manager
//
// The Manager turns platform triggers into session turns:
//
//  1. Resolve or create the session, rebuilding memory from thread history
//     when the thread already has messages.
//  2. Enqueue the human text on the session's FIFO queue.
//  3. The session worker processes one turn at a time, in acceptance order,
//     and delivers the reply into the thread.
//
// History failures degrade to an empty session; model failures are posted
// into the thread as an error notice and leave the session Active.
//
// # Eviction
//
// The Evictor periodically closes sessions that have been idle longer than
// the configured threshold. Sessions with queued or in-flight turns are
// never evicted. The next trigger on an evicted thread rebuilds the session
// from platform history.
//
// # Lock Ordering
//
// Registry.mu is always taken before Session.mu. A Session never calls
// back into the Registry.
package session
