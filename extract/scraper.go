// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/utils/htmlutils"
)

var centerRegex = regexp.MustCompile(`"center":\{"lat":` + number + `,"lng":` + number + `\}`)

// Meta tag pairs carrying the page location, in lookup order.
var metaProperties = [][2]string{
	{"og:latitude", "og:longitude"},
	{"place:location:latitude", "place:location:longitude"},
}

// Scraper downloads a map page and searches its content for coordinates.
type Scraper struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
	logger  *log.Logger
}

// NewScraper creates a page scraping layer.
func NewScraper(client *http.Client, timeout time.Duration, maxBody int64, logger *log.Logger) *Scraper {
	return &Scraper{
		client:  client,
		timeout: timeout,
		maxBody: maxBody,
		logger:  logger,
	}
}

// Method implements Layer.
func (*Scraper) Method() Method {
	return MethodScraper
}

// Extract implements Layer.
func (s *Scraper) Extract(ctx context.Context, raw string) (spatial.Point, bool) {
	p, err := s.Scrape(ctx, raw)
	if err != nil {
		s.logger.Debug("scraping page", "url", raw, "err", err)

		return spatial.Point{}, false
	}

	return p, true
}

// Scrape fetches raw and returns the first coordinates found in the page.
func (s *Scraper) Scrape(ctx context.Context, raw string) (spatial.Point, error) {
	target, err := httpURL(raw)
	if err != nil {
		return spatial.Point{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return spatial.Point{}, fmt.Errorf("building request: %w", err)
	}

	resp, err := withCallJar(s.client).Do(req)
	if err != nil {
		return spatial.Point{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return spatial.Point{}, ClassifyHTTPError(resp.StatusCode, target)
	}

	if !htmlutils.IsHTML(resp) {
		s.logger.Debug("not an HTML page", "url", target, "content-type", resp.Header.Get("Content-Type"))
	}

	r, err := htmlutils.AsReader(resp)
	if err != nil {
		return spatial.Point{}, &Error{Type: ErrorTypeMalformedResponse, Message: "reading page", Err: err}
	}

	body, err := io.ReadAll(io.LimitReader(r, s.maxBody))
	if err != nil {
		return spatial.Point{}, classifyTransportError(err)
	}

	return searchPage(body, resp.Request.URL.String())
}

// searchPage looks for, in order: a pin marker anywhere in the document, a
// map center object, location meta tags, and a pin marker in the final URL.
// The first source found decides.
func searchPage(body []byte, finalURL string) (spatial.Point, error) {
	text := string(body)

	if m := pinRegex.FindStringSubmatch(text); m != nil {
		return pair(m[1], m[2])
	}

	if m := centerRegex.FindStringSubmatch(text); m != nil {
		return pair(m[1], m[2])
	}

	node, err := htmlutils.AsNode(bytes.NewReader(body))
	if err != nil && !errors.Is(err, htmlutils.ErrConsentWall) {
		return spatial.Point{}, &Error{Type: ErrorTypeMalformedResponse, Message: "parsing page", Err: err}
	}

	wall := err != nil

	if !wall {
		doc := goquery.NewDocumentFromNode(node)

		if p, found, err := metaLocation(doc); found {
			return p, err
		}
	}

	if p, err := matchPin(finalURL); !errors.Is(err, ErrNoMatch) {
		return p, err
	}

	if wall {
		return spatial.Point{}, htmlutils.ErrConsentWall
	}

	return spatial.Point{}, ErrNoMatch
}

func metaLocation(doc *goquery.Document) (spatial.Point, bool, error) {
	for _, props := range metaProperties {
		latText, okLat := doc.Find(`meta[property="` + props[0] + `"]`).First().Attr("content")
		lngText, okLng := doc.Find(`meta[property="` + props[1] + `"]`).First().Attr("content")

		if !okLat || !okLng {
			continue
		}

		lat, errLat := strconv.ParseFloat(strings.TrimSpace(latText), 64)
		lng, errLng := strconv.ParseFloat(strings.TrimSpace(lngText), 64)

		if errLat != nil || errLng != nil {
			continue
		}

		p, ok := spatial.Validate(lng, lat)
		if !ok {
			return spatial.Point{}, true, ErrOutOfRange
		}

		return p, true, nil
	}

	return spatial.Point{}, false, nil
}

// httpURL returns raw trimmed when it is an absolute http(s) URL.
func httpURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyInput
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrUnsupportedURL
	}

	return raw, nil
}
