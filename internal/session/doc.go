// Package session maps conversation threads to remote-agent session
// handles, creating them on demand and expiring idle ones lazily.
package session
