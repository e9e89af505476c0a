package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const threadPage = `
<html><body>
<article class="message" id="js-post-9001">
	<h4 class="message-name">рыбак77</h4>
	<time datetime="2026-05-10T08:30:00+03:00"></time>
	<div class="bbWrapper">
		Отличная рыбалка,   карп до 5 кг.
		<div class="attachments">IMG_2026.jpg 1.2 MB</div>
	</div>
	<a class="u-concealed" href="/forum/posts/9001/">#1</a>
</article>
<article class="message" data-content="post-9002">
	<time datetime="2026-05-10T09:00:00+03:00"></time>
	<div class="bbWrapper">Согласен, был там вчера.</div>
</article>
<article class="message" id="js-post-9003">
	<h4 class="message-name">без даты</h4>
	<div class="bbWrapper">no timestamp here</div>
</article>
<nav>
	<a class="pageNav-jump--next" href="/forum/threads/pond.101/page-2">Next</a>
</nav>
</body></html>`

func TestThreadParsesPosts(t *testing.T) {
	t.Parallel()

	fetchedAt := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	result, err := Thread("101", "https://forum.example/forum/threads/pond.101/", []byte(threadPage), fetchedAt)
	require.NoError(t, err)
	require.Len(t, result.Posts, 2)
	require.Equal(t, 1, result.Degraded)

	first := result.Posts[0]
	require.Equal(t, "9001", first.ExternalID)
	require.Equal(t, "101", first.TopicExternalID)
	require.Equal(t, "рыбак77", first.Author)
	require.Equal(t, "Отличная рыбалка, карп до 5 кг.", first.Body)
	require.Equal(t, "https://forum.example/forum/posts/9001/", first.URL)
	require.Equal(t, time.Date(2026, 5, 10, 5, 30, 0, 0, time.UTC), first.PostedAt)
	require.Equal(t, fetchedAt, first.FetchedAt)

	second := result.Posts[1]
	require.Equal(t, "9002", second.ExternalID)
	require.Equal(t, "unknown", second.Author, "missing author gets the placeholder")
	require.Equal(t, "https://forum.example/forum/threads/pond.101/#post-9002", second.URL)

	require.Equal(t, "https://forum.example/forum/threads/pond.101/page-2", result.NextPageURL)
}

func TestThreadDropsMessagesWithoutID(t *testing.T) {
	t.Parallel()

	html := `<article class="message"><time datetime="2026-05-10T08:30:00Z"></time><div class="bbWrapper">hi</div></article>`
	result, err := Thread("101", "https://forum.example/t/", []byte(html), time.Now())
	require.NoError(t, err)
	require.Empty(t, result.Posts)
	require.Equal(t, 1, result.Degraded)
}

func TestThreadDeduplicatesByPostID(t *testing.T) {
	t.Parallel()

	html := `
<div class="message" id="post-1"><time datetime="2026-05-10T08:30:00Z"></time><div class="bbWrapper">a</div></div>
<div class="message" id="post-1"><time datetime="2026-05-10T08:30:00Z"></time><div class="bbWrapper">a again</div></div>`
	result, err := Thread("101", "https://forum.example/t/", []byte(html), time.Now())
	require.NoError(t, err)
	require.Len(t, result.Posts, 1)
	require.Equal(t, "a", result.Posts[0].Body)
}

func TestThreadLastPageHasNoNextLink(t *testing.T) {
	t.Parallel()

	html := `<div class="message" id="post-1"><time datetime="2026-05-10T08:30:00Z"></time><div class="bbWrapper">a</div></div>`
	result, err := Thread("101", "https://forum.example/t/", []byte(html), time.Now())
	require.NoError(t, err)
	require.Empty(t, result.NextPageURL)
}

func TestParsePostTimeFallbackLayouts(t *testing.T) {
	t.Parallel()

	html := `<div class="message" id="post-5"><time datetime="2026-05-10T08:30:00+0300"></time><div class="bbWrapper">x</div></div>`
	result, err := Thread("101", "https://forum.example/t/", []byte(html), time.Now())
	require.NoError(t, err)
	require.Len(t, result.Posts, 1)
	require.Equal(t, time.Date(2026, 5, 10, 5, 30, 0, 0, time.UTC), result.Posts[0].PostedAt)
}
