/*
Package types defines the domain model shared across the Forge3D
generation orchestrator: projects, assets, history entries, and the
tagged generation-request variants the scheduler and session machinery
drive to completion.

# Architecture

	┌────────────────────── DOMAIN MODEL ───────────────────────┐
	│                                                             │
	│   Project ──owns──▶ Asset                                  │
	│      │                  ▲                                  │
	│      │             (nullable FK)                           │
	│      ▼                  │                                  │
	│  HistoryEntry ──────────┘                                  │
	│      │                                                      │
	│      ▼                                                      │
	│  GenerateRequest (Mesh | Image | Full)                      │
	└─────────────────────────────────────────────────────────────┘

Project exclusively owns its Assets (cascade delete). A HistoryEntry
references a Project and optionally an Asset; both references become
null rather than cascading so audit trails survive deletion of their
referents.

# IDs

All entity IDs are opaque 12-character hex strings: the hex encoding of
the leading 6 bytes of a random 128-bit value. See NewID.
*/
package types

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a new opaque 12-character identifier.
func NewID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("types: failed to read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
