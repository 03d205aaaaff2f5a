package fetch

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// defaultMinProbeBytes is the size below which a response is assumed to be a
// JS shell rather than a rendered listing.
const defaultMinProbeBytes = 2048

// RenderDetector decides whether statically fetched HTML already carries the
// review listing or whether the page needs script execution.
type RenderDetector struct {
	minBytes int
}

// NewRenderDetector builds a detector; minBytes <= 0 selects the default.
func NewRenderDetector(minBytes int) *RenderDetector {
	if minBytes <= 0 {
		minBytes = defaultMinProbeBytes
	}
	return &RenderDetector{minBytes: minBytes}
}

// NeedsRender reports whether the markup must be re-fetched through a
// rendering tier. A listing with genuinely zero reviews also promotes; that
// costs one extra render but never loses records.
func (d *RenderDetector) NeedsRender(markup string) bool {
	if len(markup) < d.minBytes {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return true
	}
	return doc.Find(`div[id^="review-"]`).Length() == 0
}
