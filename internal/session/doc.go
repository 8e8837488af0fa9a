// Package session persists conversation sessions: their rolling turn history
// and a small free-form context map that tools and the conversation engine
// share.
//
// # Contract
//
// Store is the collaborator the conversation engine and the context provider
// talk to. Every implementation follows the same rules:
//
//   - Load refreshes last_accessed. A session whose last access is older than
//     the configured timeout is deleted and reported as ErrExpired; an unknown
//     id is ErrNotFound. IsNotFoundOrExpired covers both.
//   - AppendTurns commits all given turns or none, then trims the history to
//     the newest MaxHistory turns.
//   - Context values are normalized through JSON on write, so every store hands
//     back the same shapes (float64 numbers, map[string]any objects).
//
// # Implementations
//
//   - Memory: maps under a mutex, for tests and single-process deployments.
//   - SQLite: modernc.org/sqlite with WAL, sessions plus session_turns tables.
//   - Redis: one JSON document per session with a key TTL, a sorted-set expiry
//     index and a per-user set; read-modify-write runs under WATCH.
//
// RedisLocker provides a cross-process mutex for deployments that share one
// Redis store between several gateways, and Sweeper runs CleanupExpired on a
// cron schedule.
package session
