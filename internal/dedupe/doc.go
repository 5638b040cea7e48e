// Package dedupe tracks recently seen event ids and last-processed
// timestamps per thread, suppressing duplicates and stale arrivals under
// at-least-once delivery.
package dedupe
