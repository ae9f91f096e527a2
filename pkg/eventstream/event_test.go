package eventstream_test

import (
	"encoding/json"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/record"
)

func TestEventstream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Eventstream Suite")
}

var _ = Describe("Event", func() {
	It("marshals MemoryEvent with expected top-level keys", func() {
		event := eventstream.NewMemoryEvent(eventstream.EventTypeMigrated, "mem-123")
		event.Context = record.ContextDecision
		event.Tier = record.TierSession
		event.FromTier = record.TierWorking

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("memory_id"))
		Expect(got).To(HaveKey("context"))
		Expect(got).To(HaveKey("tier"))
		Expect(got).To(HaveKey("from_tier"))
	})

	It("fills in a fresh event ID and schema version", func() {
		a := eventstream.NewMemoryEvent(eventstream.EventTypeStored, "mem-1")
		b := eventstream.NewMemoryEvent(eventstream.EventTypeStored, "mem-1")

		Expect(a.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(a.EventID).NotTo(BeEmpty())
		Expect(a.EventID).NotTo(Equal(b.EventID))
		Expect(a.EmittedAt).NotTo(BeZero())
		Expect(a.MemoryID).To(Equal("mem-1"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeStored).To(Equal("engram.memory.stored"))
		Expect(eventstream.EventTypeMigrated).To(Equal("engram.memory.migrated"))
		Expect(eventstream.EventTypeDeleted).To(Equal("engram.memory.deleted"))
		Expect(eventstream.EventTypeSyncDeadLetter).To(Equal("engram.memory.sync.deadletter"))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).NotTo(BeNil())
		Expect(eventstream.ErrNilEvent).To(MatchError("nil memory event"))
	})
})
