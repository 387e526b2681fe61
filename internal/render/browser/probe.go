package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// Probe connects to a running browser and returns its product string
// (e.g. "HeadlessChrome/131.0.6778.85"). endpoint may be the HTTP control
// endpoint or a browser DevTools socket URL.
func Probe(ctx context.Context, endpoint string) (string, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, endpoint)
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var product string
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, p, _, _, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		product = p
		return nil
	}))
	if err != nil {
		return "", fmt.Errorf("browser probe failed: %w", err)
	}

	return product, nil
}
