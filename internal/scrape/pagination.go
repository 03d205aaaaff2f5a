package scrape

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// PageSize is the number of reviews the target renders per listing page.
const PageSize = 10

// maxPlausiblePages rejects garbage numbers found inside pagination markup.
const maxPlausiblePages = 10000

// Pagination is the estimator result; TotalPages is always >= 1.
type Pagination struct {
	CurrentPage int
	TotalPages  int
}

var (
	ratingCountRe = regexp.MustCompile(`"ratingCount"\s*:\s*(\d+)`)

	// Visible "Reviews (N)" style text with several tag-interleaving variants.
	reviewCountRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Reviews\s*\((\d+)\)`),
		regexp.MustCompile(`(?i)Reviews<[^>]*>\s*<[^>]*>\s*\((\d+)\)`),
		regexp.MustCompile(`(?i)Reviews</[^>]+>\s*<[^>]+>\(?(\d+)\)?`),
		regexp.MustCompile(`(?i)>\s*(\d+)\s*reviews?\s*<`),
		regexp.MustCompile(`(?i)"reviewCount"\s*:\s*(\d+)`),
		regexp.MustCompile(`(?i)(\d{3,})\s+reviews`),
	}

	pageParamRe = regexp.MustCompile(`(?i)[?&]page=(\d+)`)

	// Pagination containers, most specific first; the first match wins.
	navContainerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<nav[^>]*aria-label="[^"]*pag[^"]*"[^>]*>(.*?)</nav>`),
		regexp.MustCompile(`(?is)<nav[^>]*class="[^"]*pagination[^"]*"[^>]*>(.*?)</nav>`),
		regexp.MustCompile(`(?is)<div[^>]*class="[^"]*pagination[^"]*"[^>]*>(.*?)</div>`),
		regexp.MustCompile(`(?is)<ul[^>]*class="[^"]*pagination[^"]*"[^>]*>(.*?)</ul>`),
	}
	navNumberRe = regexp.MustCompile(`>(\d+)<`)
	navLinkRe   = regexp.MustCompile(`(?i)href="[^"]*page=(\d+)[^"]*"`)

	pageOfRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)page\s+\d+\s+of\s+(\d+)`),
		regexp.MustCompile(`(?i)(\d+)\s+pages?\s+total`),
	}

	currentPageRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)aria-current="page"[^>]*>(\d+)`),
		regexp.MustCompile(`(?i)class="[^"]*active[^"]*"[^>]*>(\d+)<`),
	}
)

// EstimatePagination infers total and current page from noisy markup.
//
// No single signal is reliable across markup variants, so an ordered cascade
// of heuristics is applied with monotone-max composition: a later signal only
// overrides when it finds a larger count, which keeps the result independent
// of heuristic ordering.
func EstimatePagination(markup string) Pagination {
	totalPages := 1

	// 1. Structured metadata count, the most authoritative signal.
	if m := ratingCountRe.FindStringSubmatch(markup); m != nil {
		if count := atoi(m[1]); count > 0 {
			totalPages = pagesForCount(count)
		}
	}

	// 2. Visible review-count text; only trusted when it implies more than
	// one page, smaller counts are too easy to mismatch.
	if totalPages <= 1 {
		for _, re := range reviewCountRes {
			m := re.FindStringSubmatch(markup)
			if m == nil {
				continue
			}
			if count := atoi(m[1]); count > PageSize {
				totalPages = pagesForCount(count)
				break
			}
		}
	}

	// 3. Highest page= query parameter anywhere in the document.
	for _, m := range pageParamRe.FindAllStringSubmatch(markup, -1) {
		if n := atoi(m[1]); n > totalPages {
			totalPages = n
		}
	}

	// 4. Highest page token inside a dedicated pagination container.
	for _, re := range navContainerRes {
		m := re.FindStringSubmatch(markup)
		if m == nil {
			continue
		}
		nav := m[1]
		for _, num := range navNumberRe.FindAllStringSubmatch(nav, -1) {
			if n := atoi(num[1]); n > totalPages && n < maxPlausiblePages {
				totalPages = n
			}
		}
		for _, link := range navLinkRe.FindAllStringSubmatch(nav, -1) {
			if n := atoi(link[1]); n > totalPages {
				totalPages = n
			}
		}
		break
	}

	// 5. "Page X of Y" / "Y pages total" phrasing.
	for _, re := range pageOfRes {
		if m := re.FindStringSubmatch(markup); m != nil {
			if n := atoi(m[1]); n > totalPages {
				totalPages = n
			}
		}
	}

	// 6. Last resort: a next-page affordance implies at least one more page.
	if totalPages == 1 && hasNextAffordance(markup) {
		totalPages = 2
	}

	currentPage := 1
	for _, re := range currentPageRes {
		if m := re.FindStringSubmatch(markup); m != nil {
			if n := atoi(m[1]); n > 0 {
				currentPage = n
				break
			}
		}
	}

	return Pagination{CurrentPage: currentPage, TotalPages: totalPages}
}

func hasNextAffordance(markup string) bool {
	return strings.Contains(markup, `rel="next"`) ||
		strings.Contains(markup, `aria-label="Next"`) ||
		strings.Contains(markup, ">Next<") ||
		strings.Contains(markup, "page=2")
}

func pagesForCount(count int) int {
	return int(math.Ceil(float64(count) / float64(PageSize)))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
