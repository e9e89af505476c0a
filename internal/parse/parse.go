// Package parse turns already-fetched forum HTML into domain records. The
// functions here are pure: no network access, no shared state. All markup
// coupling to the forum software lives in this package so a site redesign
// requires only a localized selector swap.
package parse

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	topicIDPattern = regexp.MustCompile(`\.(\d+)(?:/|$)`)
	digitsPattern  = regexp.MustCompile(`(\d+)`)
)

// CleanText collapses runs of whitespace into single spaces.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// PlaceNamer derives a place name from a topic title. The default treats
// the cleaned title as the place name; callers may substitute finer-grained
// extraction without touching the pipeline.
type PlaceNamer func(title string) string

// TitleAsPlaceName is the default PlaceNamer.
func TitleAsPlaceName(title string) string {
	return CleanText(title)
}

// resolveURL joins href against the page URL it appeared on.
func resolveURL(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// topicExternalID extracts the forum's stable thread id from a topic URL,
// e.g. "/threads/pond-a.123/" -> "123". Falls back to the last path segment.
func topicExternalID(topicURL string) string {
	if m := topicIDPattern.FindStringSubmatch(topicURL); m != nil {
		return m[1]
	}
	trimmed := strings.TrimRight(topicURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// firstDigits returns the first run of digits in any of the candidates.
func firstDigits(candidates ...string) string {
	for _, candidate := range candidates {
		if m := digitsPattern.FindStringSubmatch(candidate); m != nil {
			return m[1]
		}
	}
	return ""
}
