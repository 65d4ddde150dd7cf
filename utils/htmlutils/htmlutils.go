// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package htmlutils provides utility functions for working with HTML.
package htmlutils

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// ErrConsentWall is returned when the page is a cookie consent interstitial
// instead of the requested document.
var ErrConsentWall = errors.New("consent wall")

// Node2string appends the text content of n to sb, collapsing whitespace.
// Script and style contents are skipped.
func Node2string(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		tmp := strings.Join(strings.Fields(n.Data), " ")
		if len(tmp) > 0 {
			if sb.Len() != 0 {
				sb.WriteByte(' ')
			}

			sb.WriteString(tmp)
		}
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}

		fallthrough
	default:
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			Node2string(child, sb)
		}
	}
}

// Validates that response seems to be an HTML response.
func hasHTMLContentType(media string) bool {
	const expectedMedia = "text/html"

	return strings.EqualFold(
		expectedMedia,
		media[0:min(len(media), len(expectedMedia))],
	)
}

// IsHTML reports whether the response declares an HTML body.
func IsHTML(resp *http.Response) bool {
	return hasHTMLContentType(resp.Header.Get("Content-Type"))
}

// AsReader converts an HTTP response body to an io.Reader with the correct
// charset. The charset is sniffed when the response does not declare one.
func AsReader(resp *http.Response) (io.Reader, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	rr, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("detecting charset: %w", err)
	}

	return rr, nil
}

// AsNode parses an io.Reader as an HTML node. A consent interstitial is
// returned together with ErrConsentWall.
func AsNode(r io.Reader) (*html.Node, error) {
	n, err := html.Parse(r)
	if nil != err {
		return nil, fmt.Errorf("parsing body as HTML: %w", err)
	}

	if isConsentWall(n) {
		return n, ErrConsentWall
	}

	return n, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}

	return ""
}

func isConsentWall(n *html.Node) bool {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "title":
			sb := strings.Builder{}
			Node2string(n, &sb)

			if strings.HasPrefix(sb.String(), "Before you continue") {
				return true
			}
		case "form":
			if strings.Contains(attr(n, "action"), "consent.google.") {
				return true
			}
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if isConsentWall(child) {
			return true
		}
	}

	return false
}
