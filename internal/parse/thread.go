package parse

import (
	"bytes"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/fishingmap/forum-crawler/internal/ingest"
)

// ThreadResult is the outcome of parsing one topic page.
type ThreadResult struct {
	Posts []ingest.Post
	// NextPageURL is empty on the last page of the thread.
	NextPageURL string
	// Degraded counts messages dropped for lacking an id or timestamp.
	Degraded int
}

const (
	messageSelector   = "article.message, div.message"
	authorSelector    = "a.username, h4.message-name, span.username"
	bodySelector      = "div.bbWrapper, article.message-body, div.message-content"
	permalinkSelector = "a[href*='/posts/'], a.u-concealed"
	// attachmentNoise matches attachment metadata blocks stripped from body text.
	attachmentNoise = ".attachment, .attachments, .message-attachments, .js-attachmentInfo, .bbCodeBlock--unfurl"
)

// placeholderAuthor substitutes for a missing author field.
const placeholderAuthor = "unknown"

// postTimeLayouts are tried in order against the <time> datetime attribute.
var postTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
}

// Thread parses one topic page into post records in document order plus a
// next-page link. Posts missing an external id or timestamp are counted as
// degraded and skipped; missing authors get a placeholder.
func Thread(topicExternalID, pageURL string, html []byte, fetchedAt time.Time) (ThreadResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ThreadResult{}, fmt.Errorf("parse topic html: %w", err)
	}

	var result ThreadResult
	seen := make(map[string]struct{})
	doc.Find(messageSelector).Each(func(_ int, message *goquery.Selection) {
		post, ok := parseMessage(topicExternalID, pageURL, message, fetchedAt)
		if !ok {
			result.Degraded++
			return
		}
		if _, dup := seen[post.ExternalID]; dup {
			return
		}
		seen[post.ExternalID] = struct{}{}
		result.Posts = append(result.Posts, post)
	})

	if href, ok := doc.Find(nextPageSelector).First().Attr("href"); ok && href != "" {
		if next, err := resolveURL(pageURL, href); err == nil {
			result.NextPageURL = next
		}
	}
	return result, nil
}

func parseMessage(topicExternalID, pageURL string, message *goquery.Selection, fetchedAt time.Time) (ingest.Post, bool) {
	id, _ := message.Attr("id")
	dataContent, _ := message.Attr("data-content")
	externalID := firstDigits(id, dataContent)
	if externalID == "" {
		return ingest.Post{}, false
	}

	postedAt, ok := parsePostTime(message)
	if !ok {
		return ingest.Post{}, false
	}

	author := placeholderAuthor
	if tag := message.Find(authorSelector).First(); tag.Length() > 0 {
		if text := CleanText(tag.Text()); text != "" {
			author = text
		}
	}

	postURL := fmt.Sprintf("%s#post-%s", pageURL, externalID)
	if permalink := message.Find(permalinkSelector).First(); permalink.Length() > 0 {
		if href, ok := permalink.Attr("href"); ok && href != "" {
			if resolved, err := resolveURL(pageURL, href); err == nil {
				postURL = resolved
			}
		}
	}

	return ingest.Post{
		ExternalID:      externalID,
		TopicExternalID: topicExternalID,
		Author:          author,
		Body:            extractBody(message),
		URL:             postURL,
		PostedAt:        postedAt,
		FetchedAt:       fetchedAt,
	}, true
}

func parsePostTime(message *goquery.Selection) (time.Time, bool) {
	tag := message.Find("time").First()
	if tag.Length() == 0 {
		return time.Time{}, false
	}
	raw, ok := tag.Attr("datetime")
	if !ok || raw == "" {
		raw, _ = tag.Attr("title")
	}
	if raw == "" {
		raw = CleanText(tag.Text())
	}
	for _, layout := range postTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func extractBody(message *goquery.Selection) string {
	content := message.Find(bodySelector).First()
	if content.Length() == 0 {
		return ""
	}
	content.Find(attachmentNoise).Remove()
	return CleanText(content.Text())
}
