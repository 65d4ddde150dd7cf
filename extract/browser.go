// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/chromedp"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
)

// Browser renders a map link in headless Chrome and reads the pin marker the
// page writes into its URL once the map settles.
type Browser struct {
	timeout   time.Duration
	settle    time.Duration
	userAgent string
	logger    *log.Logger
}

// NewBrowser creates a headless browser layer. Chrome must be installed.
func NewBrowser(timeout, settle time.Duration, userAgent string, logger *log.Logger) *Browser {
	return &Browser{
		timeout:   timeout,
		settle:    settle,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Method implements Layer.
func (*Browser) Method() Method {
	return MethodBrowser
}

// Extract implements Layer.
func (b *Browser) Extract(ctx context.Context, raw string) (spatial.Point, bool) {
	p, err := b.Render(ctx, raw)
	if err != nil {
		b.logger.Debug("rendering page", "url", raw, "err", err)

		return spatial.Point{}, false
	}

	return p, true
}

// Render loads raw and looks for a pin marker in the current location, then
// in the rendered document.
func (b *Browser) Render(ctx context.Context, raw string) (spatial.Point, error) {
	target, err := httpURL(raw)
	if err != nil {
		return spatial.Point{}, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
		chromedp.UserAgent(b.userAgent),
		chromedp.WindowSize(1920, 1080),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	timeoutCtx, cancel := context.WithTimeout(tabCtx, b.timeout)
	defer cancel()

	tasks := []chromedp.Action{
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
	}

	if b.settle > 0 {
		tasks = append(tasks, chromedp.Sleep(b.settle))
	}

	var location, page string

	tasks = append(tasks,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &page),
	)

	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return spatial.Point{}, &Error{Type: ErrorTypeTimeout, Message: "rendering page", Err: err}
		}

		return spatial.Point{}, &Error{Type: ErrorTypeNetworkError, Message: "rendering page", Err: err}
	}

	return renderedLocation(location, page)
}

func renderedLocation(location, page string) (spatial.Point, error) {
	if p, err := matchPin(location); !errors.Is(err, ErrNoMatch) {
		return p, err
	}

	return matchPin(page)
}
