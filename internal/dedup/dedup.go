// Package dedup classifies incoming records against their last-known
// version so re-crawls write only what actually changed.
package dedup

import (
	"fmt"
	"strings"
	"time"

	"github.com/fishingmap/forum-crawler/internal/ingest"
)

// Decision is the classification of an incoming record.
type Decision int

// Classification outcomes.
const (
	// New means no record exists under the external id.
	New Decision = iota
	// Changed means the stored content differs and an upsert is due.
	Changed
	// Unchanged means the stored content matches; no write.
	Unchanged
	// SkipDeleted means the stored post is soft-deleted by the admin
	// collaborator; the pipeline must not overwrite it.
	SkipDeleted
)

func (d Decision) String() string {
	switch d {
	case New:
		return "new"
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	case SkipDeleted:
		return "skip_deleted"
	default:
		return "unknown"
	}
}

// Hasher computes digests for content comparison.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Classifier decides record dispositions by content hash.
type Classifier struct {
	hasher Hasher
}

// NewClassifier builds a Classifier.
func NewClassifier(hasher Hasher) *Classifier {
	return &Classifier{hasher: hasher}
}

// ClassifyPost compares an incoming post against the stored version.
// existing is nil when no record is stored under the external id.
func (c *Classifier) ClassifyPost(incoming ingest.Post, existing *ingest.Post) (Decision, error) {
	if existing == nil {
		return New, nil
	}
	incomingHash, err := c.hashPost(incoming)
	if err != nil {
		return Unchanged, err
	}
	existingHash, err := c.hashPost(*existing)
	if err != nil {
		return Unchanged, err
	}
	if incomingHash == existingHash {
		return Unchanged, nil
	}
	if existing.Deleted {
		return SkipDeleted, nil
	}
	return Changed, nil
}

func (c *Classifier) hashPost(post ingest.Post) (string, error) {
	payload := strings.Join([]string{
		post.TopicExternalID,
		post.Author,
		post.Body,
		post.URL,
		post.PostedAt.UTC().Format(time.RFC3339),
	}, "\x1f")
	hash, err := c.hasher.Hash([]byte(payload))
	if err != nil {
		return "", fmt.Errorf("hash post %s: %w", post.ExternalID, err)
	}
	return hash, nil
}
