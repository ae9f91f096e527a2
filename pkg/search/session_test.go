package search_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/search"
)

var _ = Describe("Session", func() {
	It("tracks observed IDs", func() {
		s := search.NewSession(0)
		Expect(s.Contains("m1")).To(BeFalse())

		s.Observe("m1", "some content")
		Expect(s.Contains("m1")).To(BeTrue())
		Expect(s.Len()).To(Equal(1))
	})

	It("evicts the oldest entry past the window", func() {
		s := search.NewSession(2)
		s.Observe("m1", "one")
		s.Observe("m2", "two")
		s.Observe("m3", "three")

		Expect(s.Len()).To(Equal(2))
		Expect(s.Contains("m1")).To(BeFalse())
		Expect(s.Contains("m3")).To(BeTrue())
	})

	It("refreshes an ID's position on re-observation", func() {
		s := search.NewSession(2)
		s.Observe("m1", "one")
		s.Observe("m2", "two")
		s.Observe("m1", "one again")
		s.Observe("m3", "three")

		// m2 is now the oldest and gets evicted, not m1.
		Expect(s.Contains("m1")).To(BeTrue())
		Expect(s.Contains("m2")).To(BeFalse())
	})

	Describe("MaxJaccard", func() {
		It("returns 0 for an empty session", func() {
			s := search.NewSession(0)
			Expect(s.MaxJaccard("anything at all")).To(BeZero())
		})

		It("returns 0 for empty content", func() {
			s := search.NewSession(0)
			s.Observe("m1", "some content")
			Expect(s.MaxJaccard("")).To(BeZero())
		})

		It("returns 1 for identical token sets", func() {
			s := search.NewSession(0)
			s.Observe("m1", "rotate the database password")
			Expect(s.MaxJaccard("password database the rotate")).To(Equal(1.0))
		})

		It("returns the best overlap across observations", func() {
			s := search.NewSession(0)
			s.Observe("m1", "completely different topic")
			s.Observe("m2", "database password rotation")

			// {database, password} vs {database, password, rotation}.
			Expect(s.MaxJaccard("database password")).To(BeNumerically("~", 2.0/3.0, 1e-9))
		})

		It("ignores case and punctuation", func() {
			s := search.NewSession(0)
			s.Observe("m1", "Database... PASSWORD!")
			Expect(s.MaxJaccard("database password")).To(Equal(1.0))
		})
	})
})
