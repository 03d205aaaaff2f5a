package fetch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	markup string
	err    error
	calls  int
}

func (s *stubFetcher) Fetch(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.markup, s.err
}

func listingMarkup() string {
	return `<html><body>` + strings.Repeat("<!-- pad -->", 300) +
		`<div id="review-1" class="x"><div aria-label="5 out of 5 stars"></div></div></body></html>`
}

func TestTieredUsesProbeWhenListingPresent(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{markup: listingMarkup()}
	renderer := &stubFetcher{markup: "<html>rendered</html>"}

	out, err := NewTiered(probe, renderer, NewRenderDetector(0), nil).
		Fetch(context.Background(), "https://apps.shopify.com/x/reviews")
	require.NoError(t, err)
	require.Equal(t, probe.markup, out)
	require.Zero(t, renderer.calls)
}

func TestTieredPromotesOnShellMarkup(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{markup: "<html><body><script>app()</script></body></html>"}
	renderer := &stubFetcher{markup: listingMarkup()}

	out, err := NewTiered(probe, renderer, NewRenderDetector(0), nil).
		Fetch(context.Background(), "https://apps.shopify.com/x/reviews")
	require.NoError(t, err)
	require.Equal(t, renderer.markup, out)
	require.Equal(t, 1, probe.calls)
}

func TestTieredPromotesOnProbeError(t *testing.T) {
	t.Parallel()

	probe := &stubFetcher{err: errors.New("connection refused")}
	renderer := &stubFetcher{markup: listingMarkup()}

	out, err := NewTiered(probe, renderer, nil, nil).
		Fetch(context.Background(), "https://apps.shopify.com/x/reviews")
	require.NoError(t, err)
	require.Equal(t, renderer.markup, out)
}

func TestRenderDetector(t *testing.T) {
	t.Parallel()

	d := NewRenderDetector(0)
	require.True(t, d.NeedsRender("<html></html>"))
	require.False(t, d.NeedsRender(listingMarkup()))

	big := strings.Repeat("<p>content</p>", 500)
	require.True(t, d.NeedsRender("<html><body>"+big+"</body></html>"))
}
