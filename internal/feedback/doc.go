// Package feedback persists reaction votes on agent replies.
//
// Each (thread, message, voter) triple maps to at most one record.
// A voter changing their mind overwrites the earlier record rather
// than accumulating history.
package feedback
