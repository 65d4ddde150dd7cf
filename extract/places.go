// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
)

// DefaultPlacesURL is the Places API Text Search endpoint.
const DefaultPlacesURL = "https://maps.googleapis.com/maps/api/place/textsearch/json"

var (
	queryParamRegex = regexp.MustCompile(`[?&]query=([^&]+)`)
	placeNameRegex  = regexp.MustCompile(`/place/([^/@]+)`)
	searchNameRegex = regexp.MustCompile(`/search/([^/@]+)`)
	coordinateText  = regexp.MustCompile(`^-?\d+\.?\d*,-?\d+\.?\d*$`)
	nameRegexes     = []*regexp.Regexp{placeNameRegex, searchNameRegex}
)

// PlaceSearch looks up the place named in a map link with the Places API.
type PlaceSearch struct {
	apiKey  string
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *log.Logger
}

// NewPlaceSearch creates a place search layer. Without apiKey it never
// issues a request.
func NewPlaceSearch(client *http.Client, apiKey, baseURL string, timeout time.Duration, logger *log.Logger) *PlaceSearch {
	if baseURL == "" {
		baseURL = DefaultPlacesURL
	}

	return &PlaceSearch{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

type placesResponse struct {
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		Name             string `json:"name"`
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
	Status       string `json:"status"` // OK, ZERO_RESULTS, etc.
	ErrorMessage string `json:"error_message"`
}

// Method implements Layer.
func (*PlaceSearch) Method() Method {
	return MethodPlaces
}

// Enabled reports whether an API key is configured.
func (p *PlaceSearch) Enabled() bool {
	return p.apiKey != ""
}

// SearchText returns the place name carried by raw. A query parameter that
// is itself a coordinate pair yields nothing.
func SearchText(raw string) (string, bool) {
	if m := queryParamRegex.FindStringSubmatch(raw); m != nil {
		text := strings.TrimSpace(strings.ReplaceAll(unescape(m[1]), "+", " "))
		if text == "" || coordinateText.MatchString(text) {
			return "", false
		}

		return text, true
	}

	for _, re := range nameRegexes {
		if m := re.FindStringSubmatch(raw); m != nil {
			text := strings.TrimSpace(strings.ReplaceAll(unescape(m[1]), "+", " "))
			if text != "" {
				return text, true
			}
		}
	}

	return "", false
}

// Extract implements Layer.
func (p *PlaceSearch) Extract(ctx context.Context, raw string) (spatial.Point, bool) {
	if !p.Enabled() {
		return spatial.Point{}, false
	}

	text, ok := SearchText(raw)
	if !ok {
		return spatial.Point{}, false
	}

	point, err := p.Search(ctx, text)
	if err != nil {
		p.logger.Debug("searching place", "query", text, "err", err)

		return spatial.Point{}, false
	}

	return point, true
}

// Search runs one Text Search request and returns the first result.
func (p *PlaceSearch) Search(ctx context.Context, text string) (spatial.Point, error) {
	if !p.Enabled() {
		return spatial.Point{}, ErrNoAPIKey
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return spatial.Point{}, fmt.Errorf("parsing places endpoint: %w", err)
	}

	params := u.Query()
	params.Set("query", text)
	params.Set("key", p.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return spatial.Point{}, fmt.Errorf("building places request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return spatial.Point{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return spatial.Point{}, ClassifyHTTPError(resp.StatusCode, p.baseURL)
	}

	var pr placesResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return spatial.Point{}, &Error{Type: ErrorTypeMalformedResponse, Message: "decoding places response", Err: err}
	}

	if pr.Status != "OK" {
		return spatial.Point{}, ClassifyPlacesStatus(pr.Status, pr.ErrorMessage)
	}

	if len(pr.Results) == 0 {
		return spatial.Point{}, &Error{Type: ErrorTypeNotFound, Message: "no results for " + text}
	}

	loc := pr.Results[0].Geometry.Location

	point, ok := spatial.Validate(loc.Lng, loc.Lat)
	if !ok {
		return spatial.Point{}, ErrOutOfRange
	}

	p.logger.Debug("place found", "query", text, "name", pr.Results[0].Name, "point", point)

	return point, nil
}
