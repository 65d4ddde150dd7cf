// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/utils/httputils"
)

// Method identifies an extraction layer.
type Method string

// Layers in priority order.
const (
	MethodPattern  Method = "pattern"
	MethodResolver Method = "resolver"
	MethodScraper  Method = "scraper"
	MethodPlaces   Method = "places"
	MethodBrowser  Method = "browser"
)

// Layer is one extraction strategy. Implementations never return an
// out-of-range point with ok set, and report every failure as !ok.
type Layer interface {
	Method() Method
	Extract(ctx context.Context, raw string) (spatial.Point, bool)
}

// DefaultResolverDomains are the hosts whose links are expanded before
// pattern matching. Subdomains match too.
var DefaultResolverDomains = []string{
	"goo.gl",
	"maps.app.goo.gl",
	"google.co.za",
	"google.com.au",
}

// Options configures an Extractor.
type Options struct {
	// APIKey enables the place search layer. Empty disables it.
	APIKey string

	// PlacesURL overrides the Text Search endpoint
	PlacesURL string

	// ResolverDomains hosts handled by the resolver layer
	ResolverDomains []string

	// Per layer timeouts
	ResolverTimeout time.Duration
	ScraperTimeout  time.Duration
	PlacesTimeout   time.Duration
	BrowserTimeout  time.Duration

	// BrowserSettle is how long a rendered page is given to update its URL
	BrowserSettle time.Duration

	// OverallTimeout bounds a parallel extraction
	OverallTimeout time.Duration

	// JoinTimeout is the grace given to lower priority layers once the best
	// result is known
	JoinTimeout time.Duration

	// MaxBodySize caps the bytes read from a scraped page
	MaxBodySize int64

	// AgreementRadius in meters, used to count layers agreeing with the best
	AgreementRadius float64

	// UserAgent is the User-Agent header to use in HTTP requests
	UserAgent string

	// Normalize enables Unicode normalization of inputs
	Normalize bool

	// Offline disables every layer that uses the network
	Offline bool

	// EnableBrowser adds the headless browser layer
	EnableBrowser bool

	// Enables light tracing of HTTP requests and responses
	EnableHTTPTrace bool

	// Enables full HTTP body tracing
	EnableHTTPBodyTrace bool

	// Transport replaces the default transport, mostly for tests
	Transport http.RoundTripper

	// Logger defaults to log.Default()
	Logger *log.Logger
}

// DefaultOptions returns the timeouts and limits used by the CLI.
func DefaultOptions() Options {
	return Options{
		PlacesURL:       DefaultPlacesURL,
		ResolverDomains: DefaultResolverDomains,
		ResolverTimeout: 10 * time.Second,
		ScraperTimeout:  15 * time.Second,
		PlacesTimeout:   10 * time.Second,
		BrowserTimeout:  20 * time.Second,
		BrowserSettle:   5 * time.Second,
		OverallTimeout:  20 * time.Second,
		JoinTimeout:     5 * time.Second,
		MaxBodySize:     5 << 20,
		AgreementRadius: 250,
		UserAgent:       httputils.BrowserUserAgent,
	}
}

func (o *Options) validate() error {
	var errs []error

	for name, d := range map[string]time.Duration{
		"resolver timeout": o.ResolverTimeout,
		"scraper timeout":  o.ScraperTimeout,
		"places timeout":   o.PlacesTimeout,
		"browser timeout":  o.BrowserTimeout,
		"browser settle":   o.BrowserSettle,
		"overall timeout":  o.OverallTimeout,
		"join timeout":     o.JoinTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative: %v", name, d))
		}
	}

	if o.MaxBodySize < 0 {
		errs = append(errs, fmt.Errorf("max body size must not be negative: %d", o.MaxBodySize))
	}

	for _, d := range o.ResolverDomains {
		if d == "" || strings.ContainsAny(d, "/:@ ") {
			errs = append(errs, fmt.Errorf("malformed resolver domain %q", d))
		}
	}

	return errors.Join(errs...)
}

// withDefaults fills zero values from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.PlacesURL == "" {
		o.PlacesURL = def.PlacesURL
	}

	if o.ResolverDomains == nil {
		o.ResolverDomains = def.ResolverDomains
	}

	for _, d := range []struct{ v, def *time.Duration }{
		{&o.ResolverTimeout, &def.ResolverTimeout},
		{&o.ScraperTimeout, &def.ScraperTimeout},
		{&o.PlacesTimeout, &def.PlacesTimeout},
		{&o.BrowserTimeout, &def.BrowserTimeout},
		{&o.OverallTimeout, &def.OverallTimeout},
		{&o.JoinTimeout, &def.JoinTimeout},
	} {
		if *d.v == 0 {
			*d.v = *d.def
		}
	}

	if o.MaxBodySize == 0 {
		o.MaxBodySize = def.MaxBodySize
	}

	if o.AgreementRadius == 0 {
		o.AgreementRadius = def.AgreementRadius
	}

	if o.UserAgent == "" {
		o.UserAgent = def.UserAgent
	}

	if o.Logger == nil {
		o.Logger = log.Default()
	}

	return o
}

// newHTTPClient builds the client shared by the network layers. Timeouts
// come from the request contexts.
func (o *Options) newHTTPClient() *http.Client {
	var httpLogWriter io.Writer
	if o.EnableHTTPTrace {
		httpLogWriter = o.Logger.StandardLog().Writer()
	}

	transport := o.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          32,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       30 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		}
	}

	loggingTransport := &httputils.LoggingRoundTripper{
		Writer:    httpLogWriter,
		DumpBody:  o.EnableHTTPBodyTrace,
		Transport: transport,
	}

	headerTransport := &httputils.AppendRequestHeadersRoundTripper{
		Headers: map[string]string{
			"User-Agent":      o.UserAgent,
			"Accept-Language": "en-US,en;q=0.9",
		},
		Transport: loggingTransport,
	}

	return &http.Client{
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}

			return nil
		},
		Transport: headerTransport,
	}
}

// withCallJar returns a copy of c holding an empty cookie jar, so cookies set
// while following one link are never sent when following another.
func withCallJar(c *http.Client) *http.Client {
	cc := *c
	cc.Jar = httputils.NewEnforceExpirationCookieJar(callCookieLifetime)

	return &cc
}

const callCookieLifetime = 10 * time.Minute

const maxRedirects = 10
