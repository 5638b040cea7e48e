// Package metrics appends one CSV row per processed event, giving a
// lightweight local operational record without a metrics backend.
package metrics
