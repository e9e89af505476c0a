package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fishingmap/forum-crawler/internal/hash/sha256"
	"github.com/fishingmap/forum-crawler/internal/ingest"
)

func samplePost() ingest.Post {
	return ingest.Post{
		ExternalID:      "9001",
		TopicExternalID: "101",
		Author:          "рыбак77",
		Body:            "карп до 5 кг",
		URL:             "https://forum.example/forum/posts/9001/",
		PostedAt:        time.Date(2026, 5, 10, 5, 30, 0, 0, time.UTC),
	}
}

func TestClassifyPostNew(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier(sha256.New())
	decision, err := classifier.ClassifyPost(samplePost(), nil)
	require.NoError(t, err)
	require.Equal(t, New, decision)
}

func TestClassifyPostUnchanged(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier(sha256.New())
	existing := samplePost()
	incoming := samplePost()
	// FetchedAt is metadata, not content; a fresh fetch alone must not
	// trigger a rewrite.
	incoming.FetchedAt = existing.FetchedAt.Add(time.Hour)

	decision, err := classifier.ClassifyPost(incoming, &existing)
	require.NoError(t, err)
	require.Equal(t, Unchanged, decision)
}

func TestClassifyPostChanged(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier(sha256.New())
	existing := samplePost()
	incoming := samplePost()
	incoming.Body = "карп до 5 кг, и щука"

	decision, err := classifier.ClassifyPost(incoming, &existing)
	require.NoError(t, err)
	require.Equal(t, Changed, decision)
}

func TestClassifyPostNeverResurrectsDeleted(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier(sha256.New())
	existing := samplePost()
	existing.Deleted = true
	incoming := samplePost()
	incoming.Body = "edited after moderation"

	decision, err := classifier.ClassifyPost(incoming, &existing)
	require.NoError(t, err)
	require.Equal(t, SkipDeleted, decision)
}

func TestClassifyPostDeletedButIdenticalIsUnchanged(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier(sha256.New())
	existing := samplePost()
	existing.Deleted = true

	decision, err := classifier.ClassifyPost(samplePost(), &existing)
	require.NoError(t, err)
	require.Equal(t, Unchanged, decision)
}

func TestDecisionString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "new", New.String())
	require.Equal(t, "changed", Changed.String())
	require.Equal(t, "unchanged", Unchanged.String())
	require.Equal(t, "skip_deleted", SkipDeleted.String())
}
