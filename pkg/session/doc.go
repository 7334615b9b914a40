// Package session persists sessions and the messages appended to them.
//
// Invariants:
// - Session ids are validated and path-safe.
// - Only the newest MaxSessions sessions are kept; creating one more evicts
//   the oldest together with its messages.
// - Session messages are stored through an archive.Store, so identical
//   content is stored once.
// - Persisting a message never fails the conversation; Hook errors are logged.
//
// Usage:
//
//	store, _ := session.NewSQLiteStore(session.Config{DBPath: "sessions.db", Archive: archiveStore})
//	_ = store.CreateSession(ctx, session.Session{ID: "s1", Task: "hello"})
//	conv.AddHook(session.NewHook(store, logger))
package session
