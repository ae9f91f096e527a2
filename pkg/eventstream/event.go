package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/pkg/record"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeStored is emitted after a memory record is created.
	EventTypeStored = "engram.memory.stored"

	// EventTypeMigrated is emitted after a record advances to a new tier.
	EventTypeMigrated = "engram.memory.migrated"

	// EventTypeDeleted is emitted after a record is hard-deleted.
	EventTypeDeleted = "engram.memory.deleted"

	// EventTypeSyncDeadLetter is emitted when a dual-write item exhausts
	// its retry budget and is parked.
	EventTypeSyncDeadLetter = "engram.memory.sync.deadletter"
)

// MemoryEvent is a transport-neutral event payload for a memory lifecycle
// transition.
type MemoryEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	MemoryID string         `json:"memory_id"`
	Context  record.Context `json:"context,omitempty"`
	Tier     record.Tier    `json:"tier,omitempty"`

	// FromTier is set on migration events.
	FromTier record.Tier `json:"from_tier,omitempty"`

	// Detail carries event-specific context, e.g. the dead-letter reason.
	Detail string `json:"detail,omitempty"`
}

// NewMemoryEvent builds an event with a fresh ID and the current schema
// version.
func NewMemoryEvent(eventType, memoryID string) *MemoryEvent {
	return &MemoryEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		MemoryID:      memoryID,
	}
}
