package record_test

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/record"
)

func TestRecord(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Record Suite")
}

var _ = Describe("New", func() {
	var now time.Time

	BeforeEach(func() {
		now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	})

	It("assigns a fresh ID", func() {
		a := record.New("fact one", record.ContextGeneral, 0.5, nil, nil, now)
		b := record.New("fact two", record.ContextGeneral, 0.5, nil, nil, now)
		Expect(a.ID).NotTo(BeEmpty())
		Expect(a.ID).NotTo(Equal(b.ID))
	})

	It("starts in the working tier with a zeroed access pattern", func() {
		rec := record.New("fact", record.ContextDecision, 0.7, nil, nil, now)
		Expect(rec.Tier).To(Equal(record.TierWorking))
		Expect(rec.AccessCount).To(BeZero())
	})

	It("sets all three timestamps to the creation time", func() {
		rec := record.New("fact", record.ContextGeneral, 0.5, nil, nil, now)
		Expect(rec.CreatedAt).To(Equal(now))
		Expect(rec.AccessedAt).To(Equal(now))
		Expect(rec.ModifiedAt).To(Equal(now))
	})
})

var _ = Describe("Clone", func() {
	It("deep-copies the embedding", func() {
		rec := record.New("fact", record.ContextGeneral, 0.5, []float32{0.1, 0.2}, nil, time.Now())
		clone := rec.Clone()

		clone.Embedding[0] = 9.9
		Expect(rec.Embedding[0]).To(BeNumerically("~", 0.1, 1e-6))
	})

	It("deep-copies metadata", func() {
		meta := record.Metadata{"source": record.String("test")}
		rec := record.New("fact", record.ContextGeneral, 0.5, nil, meta, time.Now())
		clone := rec.Clone()

		clone.Metadata["source"] = record.String("changed")
		v, _ := rec.Metadata["source"].AsString()
		Expect(v).To(Equal("test"))
	})

	It("handles a nil record", func() {
		var rec *record.Record
		Expect(rec.Clone()).To(BeNil())
	})
})

var _ = Describe("Tier", func() {
	Describe("ParseTier", func() {
		It("accepts the three known tiers", func() {
			for _, name := range []string{"working", "session", "longterm"} {
				tier, err := record.ParseTier(name)
				Expect(err).NotTo(HaveOccurred())
				Expect(tier.Valid()).To(BeTrue())
			}
		})

		It("rejects unknown values", func() {
			_, err := record.ParseTier("archive")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Next", func() {
		It("advances working to session", func() {
			next, ok := record.TierWorking.Next()
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(record.TierSession))
		})

		It("advances session to longterm", func() {
			next, ok := record.TierSession.Next()
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(record.TierLongterm))
		})

		It("reports longterm as terminal", func() {
			_, ok := record.TierLongterm.Next()
			Expect(ok).To(BeFalse())
			Expect(record.TierLongterm.Terminal()).To(BeTrue())
		})
	})

	It("lists tiers in promotion order", func() {
		Expect(record.Tiers()).To(Equal([]record.Tier{
			record.TierWorking,
			record.TierSession,
			record.TierLongterm,
		}))
	})
})

var _ = Describe("Context", func() {
	It("accepts every listed context", func() {
		for _, c := range record.Contexts() {
			parsed, err := record.ParseContext(c.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(c))
		}
	})

	It("rejects unknown values", func() {
		_, err := record.ParseContext("user/preferences")
		Expect(err).To(HaveOccurred())
	})

	It("rejects the empty string", func() {
		Expect(record.Context("").Valid()).To(BeFalse())
	})
})

var _ = Describe("Metadata", func() {
	Describe("FromAny", func() {
		It("converts the JSON-compatible scalar types", func() {
			v, err := record.FromAny("hello")
			Expect(err).NotTo(HaveOccurred())
			s, ok := v.AsString()
			Expect(ok).To(BeTrue())
			Expect(s).To(Equal("hello"))

			v, err = record.FromAny(3.5)
			Expect(err).NotTo(HaveOccurred())
			n, ok := v.AsNumber()
			Expect(ok).To(BeTrue())
			Expect(n).To(Equal(3.5))

			v, err = record.FromAny(true)
			Expect(err).NotTo(HaveOccurred())
			b, ok := v.AsBool()
			Expect(ok).To(BeTrue())
			Expect(b).To(BeTrue())
		})

		It("converts nested lists and objects", func() {
			v, err := record.FromAny(map[string]any{
				"tags": []any{"a", "b"},
			})
			Expect(err).NotTo(HaveOccurred())

			obj, ok := v.AsObject()
			Expect(ok).To(BeTrue())
			list, ok := obj["tags"].AsList()
			Expect(ok).To(BeTrue())
			Expect(list).To(HaveLen(2))
		})

		It("rejects unsupported types", func() {
			_, err := record.FromAny(make(chan int))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Merge", func() {
		It("unions disjoint keys", func() {
			a := record.Metadata{"x": record.Number(1)}
			b := record.Metadata{"y": record.Number(2)}

			merged, conflicts := a.Merge(b)
			Expect(merged).To(HaveLen(2))
			Expect(conflicts).To(BeEmpty())
		})

		It("keeps the receiver's value on conflict and reports the key", func() {
			a := record.Metadata{"source": record.String("survivor")}
			b := record.Metadata{"source": record.String("duplicate")}

			merged, conflicts := a.Merge(b)
			Expect(conflicts).To(Equal([]string{"source"}))
			v, _ := merged["source"].AsString()
			Expect(v).To(Equal("survivor"))
		})

		It("does not modify the receiver", func() {
			a := record.Metadata{"x": record.Number(1)}
			b := record.Metadata{"y": record.Number(2)}

			_, _ = a.Merge(b)
			Expect(a).To(HaveLen(1))
		})
	})

	Describe("JSON round trip", func() {
		It("serializes values as plain JSON", func() {
			m := record.Metadata{
				"name":  record.String("engram"),
				"count": record.Number(3),
				"done":  record.Bool(false),
			}

			data, err := json.Marshal(m)
			Expect(err).NotTo(HaveOccurred())

			var decoded record.Metadata
			Expect(json.Unmarshal(data, &decoded)).To(Succeed())

			v, _ := decoded["name"].AsString()
			Expect(v).To(Equal("engram"))
			n, _ := decoded["count"].AsNumber()
			Expect(n).To(Equal(3.0))
		})
	})
})
