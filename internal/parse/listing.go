package parse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fishingmap/forum-crawler/internal/ingest"
)

// ListingResult is the outcome of parsing one forum index page.
type ListingResult struct {
	Stubs []ingest.TopicStub
	// NextPageURL is empty when the listing has no further pages.
	NextPageURL string
}

// listingTopicSelector matches thread title links in a XenForo forum index.
const listingTopicSelector = "a[data-tp-primary='on'], a.structItem-title, .structItem-title a"

// nextPageSelector matches the pagination "next" link.
const nextPageSelector = "a.pageNav-jump--next"

// Listing parses a forum index page into topic stubs and a next-page link.
// A page with zero stubs is not an error. Links that do not resolve to a
// thread URL are ignored.
func Listing(pageURL string, html []byte, placeName PlaceNamer) (ListingResult, error) {
	if placeName == nil {
		placeName = TitleAsPlaceName
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ListingResult{}, fmt.Errorf("parse listing html: %w", err)
	}

	var result ListingResult
	seen := make(map[string]struct{})
	doc.Find(listingTopicSelector).Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		topicURL, err := resolveURL(pageURL, href)
		if err != nil || !strings.Contains(topicURL, "/threads/") {
			return
		}
		externalID := topicExternalID(topicURL)
		if _, dup := seen[externalID]; dup {
			return
		}
		seen[externalID] = struct{}{}
		title := CleanText(link.Text())
		result.Stubs = append(result.Stubs, ingest.TopicStub{
			ExternalID: externalID,
			Title:      title,
			PlaceName:  placeName(title),
			URL:        topicURL,
		})
	})

	if href, ok := doc.Find(nextPageSelector).First().Attr("href"); ok && href != "" {
		if next, err := resolveURL(pageURL, href); err == nil {
			result.NextPageURL = next
		}
	}
	return result, nil
}
