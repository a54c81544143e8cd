// Package session owns restream transport settings.
//
// Ownership boundary:
// - dial/read deadlines and payload limits
// - connect retry/backoff primitives
package session
