// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
)

// Resolver expands short and regional map links by following their
// redirects, then looks for coordinates in the final URL.
type Resolver struct {
	client   *http.Client
	domains  []string
	timeout  time.Duration
	patterns *PatternExtractor
	logger   *log.Logger
}

// NewResolver creates a resolver layer.
func NewResolver(client *http.Client, domains []string, timeout time.Duration,
	patterns *PatternExtractor, logger *log.Logger,
) *Resolver {
	lower := make([]string, len(domains))
	for i, d := range domains {
		lower[i] = strings.ToLower(strings.TrimPrefix(d, "."))
	}

	return &Resolver{
		client:   client,
		domains:  lower,
		timeout:  timeout,
		patterns: patterns,
		logger:   logger,
	}
}

// Method implements Layer.
func (*Resolver) Method() Method {
	return MethodResolver
}

// Handles reports whether raw is a link on one of the configured domains.
func (r *Resolver) Handles(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, d := range r.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}

	return false
}

// Resolve returns the URL raw redirects to, or raw itself when it is not
// handled or cannot be resolved.
func (r *Resolver) Resolve(ctx context.Context, raw string) string {
	if !r.Handles(raw) {
		return raw
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, strings.TrimSpace(raw), nil)
	if err != nil {
		r.logger.Debug("building resolve request", "url", raw, "err", err)

		return raw
	}

	resp, err := withCallJar(r.client).Do(req)
	if err != nil {
		r.logger.Debug("resolving link", "url", raw, "err", classifyTransportError(err))

		return raw
	}
	defer resp.Body.Close()

	return resp.Request.URL.String()
}

// Extract implements Layer. It reports a point only when the link actually
// resolved to a different URL.
func (r *Resolver) Extract(ctx context.Context, raw string) (spatial.Point, bool) {
	resolved := r.Resolve(ctx, raw)
	if resolved == raw {
		return spatial.Point{}, false
	}

	r.logger.Debug("link resolved", "url", raw, "resolved", resolved)

	return r.patterns.Extract(ctx, resolved)
}
