// Package health checks that synchronized connection URIs accept
// connections.
//
// A resource counts as healthy as soon as its connection URI is set. A
// Prober goes one step further and opens a Postgres connection to every
// bound project and database, pinging them in parallel.
package health
