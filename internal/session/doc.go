// Package session tracks whether this client is signed in to calmie and as
// whom.
//
// A [Store] owns two keys in the durable client storage, "token" and "user".
// They are written together by [Store.Login] and removed together by
// [Store.Logout]; the store never leaves one without the other. Every write
// reaches storage before the in-memory snapshot changes and before listeners
// run, so a listener that reloads from storage sees the new session.
//
// When storage cannot be used at all the store keeps working from memory for
// the rest of the process and logs a single warning.
//
// One Store is created at startup and handed to every consumer. Consumers read
// [Store.Current] or [Store.Subscribe] to changes and never touch the two keys
// directly.
package session
