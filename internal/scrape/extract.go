// Package scrape turns rendered review-listing HTML into structured records.
//
// The target markup is versioned, inconsistent and occasionally broken, so
// extraction is tolerant by design: a block that cannot be parsed is skipped,
// never fatal. Blocks are located with a tree-aware goquery pass first and a
// raw pattern scan as fallback for markup the HTML parser cannot recover.
package scrape

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Review is one extracted review record. Optional fields are empty strings.
type Review struct {
	ReviewerName  string
	Location      string
	UsageTime     string
	StarRating    int
	ReviewContent string
	ReviewDate    string
	ContentHash   string
}

// hashPrefixLen truncates the hex digest for compactness; 32 hex chars keep
// 128 bits, plenty for a dedup key.
const hashPrefixLen = 32

var (
	reviewMarkerRe = regexp.MustCompile(`(?i)<div\s+id="review-(\d+)"[^>]*class="[^"]*"[^>]*>`)
	navMarkerRe    = regexp.MustCompile(`(?i)<nav\s`)
	ariaRatingRe   = regexp.MustCompile(`(?i)aria-label="(\d+)\s+out of\s+5\s+stars"`)
	dateRe         = regexp.MustCompile(`(?i)tw-text-body-xs\s+tw-text-fg-tertiary">\s*([A-Z][a-z]+\s+\d{1,2},\s+\d{4})\s*</div>`)
	contentWrapRe  = regexp.MustCompile(`(?is)data-truncate-content-copy[^>]*>(.*?)</div>`)
	paragraphRe    = regexp.MustCompile(`(?is)<p[^>]*class="tw-break-words"[^>]*>(.*?)</p>`)
	nameRe         = regexp.MustCompile(`(?is)tw-text-heading-xs[^>]*>.*?<span[^>]*title="([^"]+)"`)
	metadataRe     = regexp.MustCompile(`(?is)tw-order-1[^>]*lg:tw-row-span-2[^>]*>(.*?)(?:<div\s+class="tw-order-last|$)`)
	plainDivRe     = regexp.MustCompile(`(?i)<div>([^<]+)</div>`)
	tagRe          = regexp.MustCompile(`<[^>]*>`)
	spaceRe        = regexp.MustCompile(`\s+`)
)

// ExtractReviews parses one page of HTML into zero or more reviews. It never
// fails: malformed input degrades to an empty (or partial) result.
func ExtractReviews(markup string) []Review {
	if strings.TrimSpace(markup) == "" {
		return nil
	}
	reviews := parseBlocks(treeReviewBlocks(markup))
	if len(reviews) == 0 {
		// Markup too broken for the tree parser, or the review content
		// sits outside the marker subtree; retry with the pattern scan.
		reviews = parseBlocks(rawReviewBlocks(markup))
	}
	return dedupPage(reviews)
}

func parseBlocks(blocks []string) []Review {
	reviews := make([]Review, 0, len(blocks))
	for _, block := range blocks {
		review, ok := parseBlock(block)
		if !ok {
			continue
		}
		reviews = append(reviews, review)
	}
	return reviews
}

// dedupPage collapses blocks with an identical normalized signature; a page
// occasionally renders the same review twice.
func dedupPage(reviews []Review) []Review {
	seen := make(map[string]struct{}, len(reviews))
	out := reviews[:0]
	for _, r := range reviews {
		sig := r.signature()
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, r)
	}
	return out
}

// treeReviewBlocks locates review blocks with a tree-aware parse and returns
// their outer HTML.
func treeReviewBlocks(markup string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var blocks []string
	doc.Find(`div[id^="review-"]`).Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		if !isReviewID(id) {
			return
		}
		if block, err := goquery.OuterHtml(sel); err == nil {
			blocks = append(blocks, block)
		}
	})
	return blocks
}

// rawReviewBlocks scans for review markers directly. Each block runs from its
// marker to the next marker, or to the trailing pagination nav, or to the end
// of the document.
func rawReviewBlocks(markup string) []string {
	markers := reviewMarkerRe.FindAllStringIndex(markup, -1)
	blocks := make([]string, 0, len(markers))
	for i, marker := range markers {
		start := marker[1]
		end := len(markup)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		block := markup[start:end]
		if nav := navMarkerRe.FindStringIndex(block); nav != nil {
			block = block[:nav[0]]
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func isReviewID(id string) bool {
	rest, ok := strings.CutPrefix(id, "review-")
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// parseBlock extracts one review from a block's HTML. A block without a
// parseable 1-5 star rating is not a genuine review and is dropped.
func parseBlock(block string) (Review, bool) {
	var r Review

	if m := ariaRatingRe.FindStringSubmatch(block); m != nil {
		r.StarRating, _ = strconv.Atoi(m[1])
	}
	if r.StarRating < 1 || r.StarRating > 5 {
		return Review{}, false
	}

	if m := dateRe.FindStringSubmatch(block); m != nil {
		r.ReviewDate = strings.TrimSpace(m[1])
	}

	if m := contentWrapRe.FindStringSubmatch(block); m != nil {
		var parts []string
		for _, p := range paragraphRe.FindAllStringSubmatch(m[1], -1) {
			if text := cleanText(p[1]); text != "" {
				parts = append(parts, text)
			}
		}
		r.ReviewContent = strings.Join(parts, " ")
	}

	if m := nameRe.FindStringSubmatch(block); m != nil {
		r.ReviewerName = cleanText(m[1])
	}

	if m := metadataRe.FindStringSubmatch(block); m != nil {
		for _, div := range plainDivRe.FindAllStringSubmatch(m[1], -1) {
			text := strings.TrimSpace(div[1])
			if text == "" {
				continue
			}
			if isUsageTime(text) {
				if r.UsageTime == "" {
					r.UsageTime = text
				}
			} else if r.Location == "" {
				r.Location = text
			}
		}
	}

	r.ContentHash = hashSignature(r.signature())
	return r, true
}

func isUsageTime(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "using the app") || strings.Contains(lower, "using app")
}

// cleanText strips tags, decodes entities and collapses whitespace.
func cleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// normalize lower-cases and collapses whitespace so hashes stay stable when
// encoding or spacing varies between page loads.
func normalize(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(strings.ToLower(s), " "))
}

// signature is the normalized identity of a review used for both page-local
// dedup and the persistent content hash.
func (r Review) signature() string {
	return strings.Join([]string{
		normalize(r.ReviewerName),
		normalize(r.ReviewDate),
		strconv.Itoa(r.StarRating),
		normalize(r.ReviewContent),
	}, "|")
}

func hashSignature(sig string) string {
	sum := sha256.Sum256([]byte(sig))
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}
