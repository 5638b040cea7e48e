// Package store persists small JSON blobs under string keys.
//
// The gateway uses it as the backing sink for feedback records. Writes
// are last-write-wins: putting an existing key overwrites the previous
// value and reports that the key was already present.
package store
