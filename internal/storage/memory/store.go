// Package memory provides an in-memory storage collaborator for tests and
// database-less operation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fishingmap/forum-crawler/internal/geocode"
	"github.com/fishingmap/forum-crawler/internal/ingest"
)

// Store implements ingest.Store with mutex-guarded maps.
type Store struct {
	mu     sync.RWMutex
	topics map[string]ingest.Topic
	posts  map[string]ingest.Post
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		topics: make(map[string]ingest.Topic),
		posts:  make(map[string]ingest.Post),
	}
}

// UpsertTopic implements ingest.Store. Geocode fields of an existing row
// are preserved; they are owned by UpdateTopicCoordinates.
func (s *Store) UpsertTopic(_ context.Context, topic ingest.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.topics[topic.ExternalID]; ok {
		topic.Lat = existing.Lat
		topic.Lon = existing.Lon
		topic.GeocodeProvider = existing.GeocodeProvider
		topic.GeocodeConfidence = existing.GeocodeConfidence
		topic.GeocodedAt = existing.GeocodedAt
	}
	s.topics[topic.ExternalID] = topic
	return nil
}

// UpsertPost implements ingest.Store. Soft-delete fields of an existing row
// are preserved; they are owned by the admin collaborator.
func (s *Store) UpsertPost(_ context.Context, post ingest.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.posts[post.ExternalID]; ok {
		post.Deleted = existing.Deleted
		post.DeletedAt = existing.DeletedAt
	}
	s.posts[post.ExternalID] = post
	return nil
}

// GetPost implements ingest.Store.
func (s *Store) GetPost(_ context.Context, externalID string) (ingest.Post, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[externalID]
	return post, ok, nil
}

// GetTopic returns the stored topic, if any.
func (s *Store) GetTopic(_ context.Context, externalID string) (ingest.Topic, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok := s.topics[externalID]
	return topic, ok, nil
}

// TopicsNeedingGeocode implements ingest.Store.
func (s *Store) TopicsNeedingGeocode(_ context.Context, staleness time.Duration) ([]ingest.Topic, error) {
	cutoff := time.Now().UTC().Add(-staleness)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var topics []ingest.Topic
	for _, topic := range s.topics {
		if topic.HasCoordinates() && topic.GeocodedAt != nil && topic.GeocodedAt.After(cutoff) {
			continue
		}
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		return topics[i].ExternalID < topics[j].ExternalID
	})
	return topics, nil
}

// UpdateTopicCoordinates implements ingest.Store.
func (s *Store) UpdateTopicCoordinates(_ context.Context, externalID string, result geocode.Result, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic, ok := s.topics[externalID]
	if !ok {
		return nil
	}
	lat, lon, confidence := result.Lat, result.Lon, result.Confidence
	topic.Lat = &lat
	topic.Lon = &lon
	topic.GeocodeProvider = result.Provider
	topic.GeocodeConfidence = &confidence
	geocodedAt := at
	topic.GeocodedAt = &geocodedAt
	s.topics[externalID] = topic
	return nil
}

// MarkPostDeleted flips the soft-delete flag the way the admin collaborator
// would. Test helper.
func (s *Store) MarkPostDeleted(externalID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[externalID]
	if !ok {
		return false
	}
	post.Deleted = true
	post.DeletedAt = &at
	s.posts[externalID] = post
	return true
}

// PostCount returns the number of stored posts.
func (s *Store) PostCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}
