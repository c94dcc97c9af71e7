// Package database keeps the harvest history in SQLite (modernc.org/sqlite,
// no cgo).
//
// Each harvest is stored as a run, identified by a UUID, together with one
// row per acquired asset: where it came from, what it was attributed to,
// how it was acquired and the SHA3-256 digest of the stored file. The
// digest lets later runs spot images they already have under another URL.
package database
