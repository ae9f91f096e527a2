package storage

import (
	"strings"
	"testing"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestStorage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Storage Suite")
}

var _ = Describe("ExtractHighlights", func() {
	It("returns nothing for empty inputs", func() {
		Expect(ExtractHighlights("", "query")).To(BeEmpty())
		Expect(ExtractHighlights("content", "")).To(BeEmpty())
	})

	It("returns the whole content when it is short", func() {
		out := ExtractHighlights("prefers tabs over spaces", "tabs")
		Expect(out).To(Equal([]string{"prefers tabs over spaces"}))
	})

	It("matches case-insensitively", func() {
		out := ExtractHighlights("Prefers Tabs over spaces", "tabs")
		Expect(out).To(HaveLen(1))
		Expect(out[0]).To(ContainSubstring("Tabs"))
	})

	It("truncates long content around the hit", func() {
		content := strings.Repeat("x", 200) + " needle " + strings.Repeat("y", 200)
		out := ExtractHighlights(content, "needle")
		Expect(out).To(HaveLen(1))
		Expect(out[0]).To(HavePrefix("…"))
		Expect(out[0]).To(HaveSuffix("…"))
		Expect(out[0]).To(ContainSubstring("needle"))
		Expect(len(out[0])).To(BeNumerically("<", len(content)))
	})

	It("keeps excerpt boundaries on rune starts", func() {
		content := strings.Repeat("世", 30) + "needle" + strings.Repeat("界", 30)
		out := ExtractHighlights(content, "needle")
		Expect(out).To(HaveLen(1))
		Expect(utf8.ValidString(out[0])).To(BeTrue())
		Expect(out[0]).To(ContainSubstring("needle"))
	})

	It("caps the number of excerpts", func() {
		content := strings.Repeat("the needle is here. ", 10)
		out := ExtractHighlights(content, "needle")
		Expect(out).To(HaveLen(MaxHighlights))
	})

	It("returns one excerpt per occurrence", func() {
		out := ExtractHighlights("first needle and second needle", "needle")
		Expect(out).To(HaveLen(2))
	})
})
