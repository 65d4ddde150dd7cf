// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/spatial"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/utils/htmlutils"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func testClient() *http.Client {
	opts := DefaultOptions().withDefaults()
	opts.Logger = testLogger()

	return opts.newHTTPClient()
}

func newMapServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/maps/place/Sandton/@-26.108204,28.0527061,17z", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/maps/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><title>Sandton</title></html>")
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "nothing here")
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, &hits
}

func TestResolver(t *testing.T) {
	srv, hits := newMapServer(t)
	r := NewResolver(testClient(), []string{"127.0.0.1"}, time.Second, NewPatternExtractor(false), testLogger())

	t.Run("short link", func(t *testing.T) {
		p, ok := r.Extract(context.Background(), srv.URL+"/short")
		require.True(t, ok)
		assert.Equal(t, spatial.Point{Lat: -26.108204, Lng: 28.0527061}, p)
	})

	t.Run("no redirect", func(t *testing.T) {
		_, ok := r.Extract(context.Background(), srv.URL+"/plain")
		assert.False(t, ok)
	})

	t.Run("slow link returns the input", func(t *testing.T) {
		slow := NewResolver(testClient(), []string{"127.0.0.1"}, 50*time.Millisecond, NewPatternExtractor(false), testLogger())
		assert.Equal(t, srv.URL+"/slow", slow.Resolve(context.Background(), srv.URL+"/slow"))
	})

	t.Run("redirect loop stops", func(t *testing.T) {
		assert.Equal(t, srv.URL+"/loop", r.Resolve(context.Background(), srv.URL+"/loop"))
	})

	t.Run("other hosts are not fetched", func(t *testing.T) {
		before := hits.Load()
		other := NewResolver(testClient(), DefaultResolverDomains, time.Second, NewPatternExtractor(false), testLogger())

		assert.Equal(t, srv.URL+"/short", other.Resolve(context.Background(), srv.URL+"/short"))
		assert.Equal(t, before, hits.Load())
	})

	t.Run("unreachable host returns the input", func(t *testing.T) {
		dead := NewResolver(testClient(), []string{"127.0.0.1"}, time.Second, NewPatternExtractor(false), testLogger())
		raw := "http://127.0.0.1:1/short"
		assert.Equal(t, raw, dead.Resolve(context.Background(), raw))
	})
}

func TestResolverHandles(t *testing.T) {
	r := NewResolver(nil, DefaultResolverDomains, time.Second, NewPatternExtractor(false), testLogger())

	tests := []struct {
		raw  string
		want bool
	}{
		{"https://goo.gl/maps/abc", true},
		{"https://maps.app.goo.gl/xyz", true},
		{"https://www.google.co.za/maps/place/Cape+Town", true},
		{"https://WWW.GOOGLE.COM.AU/maps", true},
		{"https://www.google.com/maps/@-26.1,28.0,17z", false},
		{"https://notgoo.gl/x", false},
		{"https://evil.example/?u=goo.gl", false},
		{"goo.gl/maps/abc", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Handles(tt.raw))
		})
	}
}

func TestSearchPage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		finalURL string
		want     spatial.Point
		wantErr  error
	}{
		{
			name: "pin marker in a link",
			body: `<a href="https://www.google.com/maps/@-33.9249,18.4241,12z">map</a>`,
			want: spatial.Point{Lat: -33.9249, Lng: 18.4241},
		},
		{
			name: "map center object",
			body: `<script>window.APP={"center":{"lat":35.6586,"lng":139.7454},"zoom":17}</script>`,
			want: spatial.Point{Lat: 35.6586, Lng: 139.7454},
		},
		{
			name: "open graph tags",
			body: `<html><head>
				<meta property="og:longitude" content="2.2945">
				<meta property="og:latitude" content="48.8584">
			</head></html>`,
			want: spatial.Point{Lat: 48.8584, Lng: 2.2945},
		},
		{
			name: "place tags",
			body: `<html><head>
				<meta property="place:location:latitude" content=" -26.1 ">
				<meta property="place:location:longitude" content="28.05">
			</head></html>`,
			want: spatial.Point{Lat: -26.1, Lng: 28.05},
		},
		{
			name:    "invalid pin stops the search",
			body:    `@95.0,18.4,12z "center":{"lat":1.0,"lng":2.0}`,
			wantErr: ErrOutOfRange,
		},
		{
			name:     "pin in final URL",
			body:     `<html><title>Google Maps</title></html>`,
			finalURL: "https://www.google.com/maps/@-26.1,28.05,15z",
			want:     spatial.Point{Lat: -26.1, Lng: 28.05},
		},
		{
			name:     "consent wall",
			body:     `<html><head><title>Before you continue to Google Maps</title></head></html>`,
			finalURL: "https://consent.google.com/ml?continue=x",
			wantErr:  htmlutils.ErrConsentWall,
		},
		{
			name:    "nothing",
			body:    `<html><title>Eiffel Tower</title></html>`,
			wantErr: ErrNoMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := searchPage([]byte(tt.body), tt.finalURL)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("searchPage() error = %v, want %v", err, tt.wantErr)
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScraper(t *testing.T) {
	var gotAgent atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc("/maps/place/Sandton", func(w http.ResponseWriter, r *http.Request) {
		gotAgent.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><meta property="og:latitude" content="-26.108204"><meta property="og:longitude" content="28.0527061"></head></html>`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/huge", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>")

		for range 1000 {
			fmt.Fprint(w, "<p>padding padding padding padding</p>")
		}

		fmt.Fprint(w, `@-26.1,28.05,12z</html>`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewScraper(testClient(), time.Second, 1024, testLogger())

	p, ok := s.Extract(context.Background(), srv.URL+"/maps/place/Sandton")
	require.True(t, ok)
	assert.Equal(t, spatial.Point{Lat: -26.108204, Lng: 28.0527061}, p)
	assert.Contains(t, gotAgent.Load(), "Mozilla/5.0")

	_, err := s.Scrape(context.Background(), srv.URL+"/missing")

	var extErr *Error
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, ErrorTypeNotFound, extErr.Type)

	_, err = s.Scrape(context.Background(), srv.URL+"/huge")
	require.ErrorIs(t, err, ErrNoMatch, "content past the body limit is ignored")

	for _, raw := range []string{"", "javascript:alert(1)", "file:///etc/passwd", "-26.1,28.0", "/maps/@1,2,3z"} {
		_, err := s.Scrape(context.Background(), raw)
		assert.Error(t, err, raw)
	}
}

func TestCookiesStayWithinOneCall(t *testing.T) {
	consented := func(r *http.Request) bool {
		_, err := r.Cookie("CONSENT")

		return err == nil
	}
	setConsent := func(w http.ResponseWriter) {
		http.SetCookie(w, &http.Cookie{Name: "CONSENT", Value: "YES+", Path: "/"})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")

		if consented(r) {
			fmt.Fprint(w, `<html><a href="/maps/@-26.1,28.05,17z">pin</a></html>`)

			return
		}

		setConsent(w)
		fmt.Fprint(w, "<html>consent required</html>")
	})
	mux.HandleFunc("/consent", func(w http.ResponseWriter, r *http.Request) {
		setConsent(w)
		http.Redirect(w, r, "/page", http.StatusFound)
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		if consented(r) {
			http.Redirect(w, r, "/maps/place/Sandton/@-26.1,28.05,17z", http.StatusFound)

			return
		}

		setConsent(w)
		http.Redirect(w, r, "/plain", http.StatusFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := testClient()

	t.Run("scraper", func(t *testing.T) {
		s := NewScraper(client, time.Second, 1<<20, testLogger())

		for i := range 2 {
			_, err := s.Scrape(context.Background(), srv.URL+"/page")
			require.ErrorIs(t, err, ErrNoMatch, "call %d", i)
		}

		p, err := s.Scrape(context.Background(), srv.URL+"/consent")
		require.NoError(t, err, "cookies set along a redirect chain are kept for that chain")
		assert.Equal(t, spatial.Point{Lat: -26.1, Lng: 28.05}, p)
	})

	t.Run("resolver", func(t *testing.T) {
		r := NewResolver(client, []string{"127.0.0.1"}, time.Second, NewPatternExtractor(false), testLogger())

		first, firstOK := r.Extract(context.Background(), srv.URL+"/short")
		second, secondOK := r.Extract(context.Background(), srv.URL+"/short")

		assert.False(t, firstOK)
		assert.Equal(t, firstOK, secondOK)
		assert.Equal(t, first, second)
	})
}

func TestSearchText(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"https://www.google.com/maps/search/?api=1&query=Eiffel+Tower", "Eiffel Tower", true},
		{"https://www.google.com/maps/search/?api=1&query=Caf%C3%A9+de+Flore", "Café de Flore", true},
		{"https://www.google.com/maps/search/?api=1&query=47.5951518%2C-122.3316393", "", false},
		{"https://www.google.com/maps/search/?api=1&query=47,-122", "", false},
		{"https://www.google.com/maps/place/Tokyo+Tower/data=!3m1", "Tokyo Tower", true},
		{"https://www.google.com/maps/place/Tokyo+Tower/@35.6586,139.7454,17z", "Tokyo Tower", true},
		{"https://www.google.com/maps/search/Table+Mountain/@-33.9,18.4,12z", "Table Mountain", true},
		{"https://www.example.com", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := SearchText(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newPlacesServer(t *testing.T, body string, status int) (*httptest.Server, *atomic.Int32, *atomic.Pointer[url.Values]) {
	t.Helper()

	var (
		hits  atomic.Int32
		query atomic.Pointer[url.Values]
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		q := r.URL.Query()
		query.Store(&q)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, &hits, &query
}

func TestPlaceSearch(t *testing.T) {
	const eiffel = "https://www.google.com/maps/search/?api=1&query=Eiffel+Tower"

	t.Run("first result", func(t *testing.T) {
		srv, hits, query := newPlacesServer(t, `{"status":"OK","results":[
			{"name":"Eiffel Tower","geometry":{"location":{"lat":48.8583701,"lng":2.2944813}}},
			{"name":"Other","geometry":{"location":{"lat":1,"lng":1}}}]}`, http.StatusOK)

		p := NewPlaceSearch(testClient(), "k3y", srv.URL, time.Second, testLogger())
		got, ok := p.Extract(context.Background(), eiffel)

		require.True(t, ok)
		assert.Equal(t, spatial.Point{Lat: 48.8583701, Lng: 2.2944813}, got)
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, "Eiffel Tower", query.Load().Get("query"))
		assert.Equal(t, "k3y", query.Load().Get("key"))
	})

	t.Run("endpoint with query", func(t *testing.T) {
		srv, hits, query := newPlacesServer(t, `{"status":"OK","results":[
			{"name":"Eiffel Tower","geometry":{"location":{"lat":48.8583701,"lng":2.2944813}}}]}`, http.StatusOK)

		p := NewPlaceSearch(testClient(), "k3y", srv.URL+"/textsearch/json?region=fr", time.Second, testLogger())
		got, err := p.Search(context.Background(), "Eiffel Tower")

		require.NoError(t, err)
		assert.Equal(t, spatial.Point{Lat: 48.8583701, Lng: 2.2944813}, got)
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, "fr", query.Load().Get("region"))
		assert.Equal(t, "Eiffel Tower", query.Load().Get("query"))
		assert.Equal(t, "k3y", query.Load().Get("key"))
	})

	t.Run("no key no request", func(t *testing.T) {
		srv, hits, _ := newPlacesServer(t, `{"status":"OK"}`, http.StatusOK)

		p := NewPlaceSearch(testClient(), "", srv.URL, time.Second, testLogger())
		_, ok := p.Extract(context.Background(), eiffel)

		assert.False(t, ok)
		assert.Zero(t, hits.Load())

		_, err := p.Search(context.Background(), "Eiffel Tower")
		assert.ErrorIs(t, err, ErrNoAPIKey)
	})

	t.Run("coordinate query no request", func(t *testing.T) {
		srv, hits, _ := newPlacesServer(t, `{"status":"OK"}`, http.StatusOK)

		p := NewPlaceSearch(testClient(), "k3y", srv.URL, time.Second, testLogger())
		_, ok := p.Extract(context.Background(), "https://www.google.com/maps/search/?api=1&query=47.59%2C-122.33")

		assert.False(t, ok)
		assert.Zero(t, hits.Load())
	})

	errorCases := []struct {
		name     string
		body     string
		status   int
		wantType ErrorType
	}{
		{"zero results", `{"status":"ZERO_RESULTS","results":[]}`, http.StatusOK, ErrorTypeNotFound},
		{"quota", `{"status":"OVER_QUERY_LIMIT"}`, http.StatusOK, ErrorTypeQuotaExceeded},
		{"denied", `{"status":"REQUEST_DENIED","error_message":"bad key"}`, http.StatusOK, ErrorTypeInvalidRequest},
		{"ok without results", `{"status":"OK","results":[]}`, http.StatusOK, ErrorTypeNotFound},
		{"malformed", `{"status":`, http.StatusOK, ErrorTypeMalformedResponse},
		{"http error", `{}`, http.StatusServiceUnavailable, ErrorTypeNetworkError},
	}

	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _, _ := newPlacesServer(t, tc.body, tc.status)

			p := NewPlaceSearch(testClient(), "k3y", srv.URL, time.Second, testLogger())
			_, err := p.Search(context.Background(), "Eiffel Tower")

			var extErr *Error
			require.ErrorAs(t, err, &extErr)
			assert.Equal(t, tc.wantType, extErr.Type)

			_, ok := p.Extract(context.Background(), eiffel)
			assert.False(t, ok)
		})
	}

	t.Run("out of range result", func(t *testing.T) {
		srv, _, _ := newPlacesServer(t, `{"status":"OK","results":[{"geometry":{"location":{"lat":91,"lng":0}}}]}`, http.StatusOK)

		p := NewPlaceSearch(testClient(), "k3y", srv.URL, time.Second, testLogger())
		_, err := p.Search(context.Background(), "Nowhere")
		assert.ErrorIs(t, err, ErrOutOfRange)
	})
}

func TestRenderedLocation(t *testing.T) {
	p, err := renderedLocation("https://www.google.com/maps/place/Sandton/@-26.108204,28.0527061,17z", "")
	require.NoError(t, err)
	assert.Equal(t, spatial.Point{Lat: -26.108204, Lng: 28.0527061}, p)

	p, err = renderedLocation("https://www.google.com/maps/search/Sandton", `<a href="/maps/@-26.1,28.05,12z">`)
	require.NoError(t, err)
	assert.Equal(t, spatial.Point{Lat: -26.1, Lng: 28.05}, p)

	_, err = renderedLocation("https://www.google.com/maps", "<html></html>")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestBrowserRejectsNonHTTP(t *testing.T) {
	b := NewBrowser(time.Second, 0, "test", testLogger())

	_, err := b.Render(context.Background(), "-26.1,28.05")
	assert.ErrorIs(t, err, ErrUnsupportedURL)

	_, ok := b.Extract(context.Background(), "")
	assert.False(t, ok)
}
