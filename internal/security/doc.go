// Package security derives a read-only posture report from the engine
// configuration. It performs no I/O.
package security
