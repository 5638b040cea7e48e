// Package dispatch routes normalized events to their handlers.
//
// Each conversation thread gets its own lane: a buffered channel drained
// by a single goroutine. Events within a thread are processed strictly
// in arrival order; separate threads never block each other. Message and
// mention events go to the remote agent and their replies back to the
// platform; feedback votes go to the feedback writer.
package dispatch
