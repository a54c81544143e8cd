// Package client owns the restream TCP connection.
//
// Ownership boundary:
// - dial with retry/backoff
// - session preamble read (once per connection)
// - sequential packet reads with deadlines and cancellation
//
// A Session is the only owner of its connection. Reads are strictly
// sequential; the protocol has no resynchronisation point, so a failed
// read ends the session and the caller reconnects for a new one.
package client
