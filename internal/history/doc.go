// Package history stores verification results and the requests sent through
// verified proxies in a local SQLite database (modernc.org/sqlite, no CGO).
//
// The database lives in the XDG data directory by default
// (~/.local/share/torreq/torreq.db on Linux) and is written by the check and
// request commands unless --no-history is given.
package history
