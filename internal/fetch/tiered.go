package fetch

import (
	"context"

	"go.uber.org/zap"
)

// Tiered probes a page with a plain HTTP fetch first and promotes to the
// rendering tier only when the static HTML lacks the review listing. Saves a
// rendering-service round trip on pages that are served pre-rendered.
type Tiered struct {
	probe    Fetcher
	renderer Fetcher
	detector *RenderDetector
	logger   *zap.Logger
}

// NewTiered wires a probe fetcher in front of the rendering fetcher.
func NewTiered(probe, renderer Fetcher, detector *RenderDetector, logger *zap.Logger) *Tiered {
	if detector == nil {
		detector = NewRenderDetector(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{probe: probe, renderer: renderer, detector: detector, logger: logger}
}

// Fetch returns the probe result when it already contains the listing,
// otherwise falls through to the rendering tier. Probe failures are not
// fatal; the renderer is the authoritative tier.
func (t *Tiered) Fetch(ctx context.Context, url string) (string, error) {
	markup, err := t.probe.Fetch(ctx, url)
	if err == nil && !t.detector.NeedsRender(markup) {
		return markup, nil
	}
	if err != nil {
		t.logger.Debug("static probe failed, promoting to renderer",
			zap.String("url", url), zap.Error(err))
	}
	return t.renderer.Fetch(ctx, url)
}
