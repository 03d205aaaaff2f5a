package scrape

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildReviewsURL converts an app listing URL into its reviews-page URL for
// the given page number. Page 1 carries no query parameter so the canonical
// form is fetched.
func BuildReviewsURL(base string, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse target url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("target url %q is not absolute", base)
	}
	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(path, "/reviews") {
		path += "/reviews"
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	if page > 1 {
		u.RawQuery = fmt.Sprintf("page=%d", page)
	}
	return u.String(), nil
}

// SlugFromURL extracts the app handle from a listing URL, ignoring a
// trailing reviews path segment.
func SlugFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("app url %q is not absolute", raw)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" && segments[i] != "reviews" {
			return segments[i], nil
		}
	}
	return "", fmt.Errorf("app url %q has no app handle", raw)
}
