// Package store archives chat sessions and their turns in SQLite.
//
// # Role
//
// The archive is write-only on the live path: the session manager records
// each session and every completed turn, but never reads them back to
// serve a conversation. Thread history on the chat platform remains the
// source of truth for memory. The CLI reads the archive for transcripts.
//
// # Data Models
//
//   - SessionRecord: one live session of a thread, from creation to close
//   - TurnRecord: one human or agent message processed by a session
//
// A thread that is evicted and resumed produces a second SessionRecord with
// the same ThreadID and Origin "resuming".
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(t.TempDir()+"/x.db")
// for integration tests.
package store
