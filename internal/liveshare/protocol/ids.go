// Package protocol defines the liveshare wire format: message taxonomy,
// priority/ordering classification, and the binary/text codecs, per
// spec.md §4.1.
package protocol

import "github.com/google/uuid"

// RoomId, UserId and DiagramId are the spec's "opaque 128-bit values".
type (
	RoomId    = uuid.UUID
	UserId    = uuid.UUID
	DiagramId = uuid.UUID
)

// NodeId and EdgeId are unsigned 64-bit integers local to a room (spec.md §3).
type (
	NodeId = uint64
	EdgeId = uint64
)
