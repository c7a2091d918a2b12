// Package stores persists handshake runs, the last synchronized state of
// each project and its databases, and the lifecycle event log. The SQLite
// implementation runs embedded migrations and never stores passwords.
package stores
