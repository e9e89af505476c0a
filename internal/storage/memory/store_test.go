package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fishingmap/forum-crawler/internal/geocode"
	"github.com/fishingmap/forum-crawler/internal/ingest"
)

func TestUpsertTopicPreservesGeocodeFields(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertTopic(ctx, ingest.Topic{ExternalID: "101", Title: "Pond", PlaceName: "Pond", LastSeenAt: now}))
	require.NoError(t, store.UpdateTopicCoordinates(ctx, "101", geocode.Result{
		Lat: 55.7, Lon: 37.6, Confidence: 0.9, Provider: "yandex",
	}, now))

	// A re-crawl refreshes the listing fields only.
	require.NoError(t, store.UpsertTopic(ctx, ingest.Topic{ExternalID: "101", Title: "Pond (renamed)", PlaceName: "Pond", LastSeenAt: now.Add(time.Hour)}))

	topic, ok, err := store.GetTopic(ctx, "101")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Pond (renamed)", topic.Title)
	require.True(t, topic.HasCoordinates())
	require.Equal(t, 55.7, *topic.Lat)
	require.Equal(t, "yandex", topic.GeocodeProvider)
}

func TestUpsertPostPreservesSoftDelete(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	post := ingest.Post{ExternalID: "9001", TopicExternalID: "101", Body: "original"}
	require.NoError(t, store.UpsertPost(ctx, post))
	require.True(t, store.MarkPostDeleted("9001", now))

	post.Body = "edited"
	require.NoError(t, store.UpsertPost(ctx, post))

	stored, ok, err := store.GetPost(ctx, "9001")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stored.Deleted)
	require.NotNil(t, stored.DeletedAt)
	require.Equal(t, "edited", stored.Body)
}

func TestGetPostMissing(t *testing.T) {
	t.Parallel()

	store := New()
	_, ok, err := store.GetPost(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTopicsNeedingGeocode(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.UpsertTopic(ctx, ingest.Topic{ExternalID: "1", PlaceName: "a"}))
	require.NoError(t, store.UpsertTopic(ctx, ingest.Topic{ExternalID: "2", PlaceName: "b"}))
	require.NoError(t, store.UpsertTopic(ctx, ingest.Topic{ExternalID: "3", PlaceName: "c"}))

	// Topic 2 is freshly geocoded, topic 3 stale.
	require.NoError(t, store.UpdateTopicCoordinates(ctx, "2", geocode.Result{Lat: 1, Lon: 2, Confidence: 1}, now))
	require.NoError(t, store.UpdateTopicCoordinates(ctx, "3", geocode.Result{Lat: 3, Lon: 4, Confidence: 1}, now.Add(-48*time.Hour)))

	topics, err := store.TopicsNeedingGeocode(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.Equal(t, "1", topics[0].ExternalID)
	require.Equal(t, "3", topics[1].ExternalID)
}

func TestUpdateTopicCoordinatesUnknownTopicIsNoop(t *testing.T) {
	t.Parallel()

	store := New()
	require.NoError(t, store.UpdateTopicCoordinates(context.Background(), "missing", geocode.Result{}, time.Now()))
}
