// Package pipeline orchestrates one bounded crawl run: forum listing pages
// into topic stubs, topic pages into deduplicated post upserts, then a
// geocode pass over topics with stale coordinates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fishingmap/forum-crawler/internal/dedup"
	"github.com/fishingmap/forum-crawler/internal/geocode"
	"github.com/fishingmap/forum-crawler/internal/ingest"
	"github.com/fishingmap/forum-crawler/internal/metrics"
	"github.com/fishingmap/forum-crawler/internal/parse"
)

// Config bounds a single run.
type Config struct {
	ForumRootURL     string
	MaxForumPages    int
	MaxTopicPages    int
	MaxConcurrency   int
	GeocodeStaleness time.Duration
	// ReportTopic names the publisher destination for run reports.
	// Empty disables publishing.
	ReportTopic string
}

// Pipeline drives one crawl run at a time. A page-level failure is recorded
// and its branch skipped; only failure of the very first listing fetch
// aborts the run. Partial upserts are never rolled back: idempotent
// upsert-by-external-id makes resumption safe.
type Pipeline struct {
	fetcher    ingest.Fetcher
	store      ingest.Store
	classifier *dedup.Classifier
	geocoder   ingest.Geocoder
	publisher  ingest.Publisher
	clock      ingest.Clock
	ids        ingest.IDGenerator
	placeName  parse.PlaceNamer
	logger     *zap.Logger
	cfg        Config
}

// New constructs a Pipeline. publisher may be nil; placeName nil means the
// topic title doubles as the place name.
func New(
	fetcher ingest.Fetcher,
	store ingest.Store,
	classifier *dedup.Classifier,
	geocoder ingest.Geocoder,
	publisher ingest.Publisher,
	clock ingest.Clock,
	ids ingest.IDGenerator,
	placeName parse.PlaceNamer,
	logger *zap.Logger,
	cfg Config,
) *Pipeline {
	if placeName == nil {
		placeName = parse.TitleAsPlaceName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxForumPages <= 0 {
		cfg.MaxForumPages = 1
	}
	if cfg.MaxTopicPages <= 0 {
		cfg.MaxTopicPages = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Pipeline{
		fetcher:    fetcher,
		store:      store,
		classifier: classifier,
		geocoder:   geocoder,
		publisher:  publisher,
		clock:      clock,
		ids:        ids,
		placeName:  placeName,
		logger:     logger,
		cfg:        cfg,
	}
}

// runState guards the report shared by topic workers.
type runState struct {
	mu     sync.Mutex
	report ingest.CrawlRun
}

func (r *runState) addError(err error) {
	r.mu.Lock()
	r.report.Errors = append(r.report.Errors, err.Error())
	r.mu.Unlock()
}

func (r *runState) pageFetched() {
	r.mu.Lock()
	r.report.PagesFetched++
	r.mu.Unlock()
}

func (r *runState) postUpserted() {
	r.mu.Lock()
	r.report.PostsUpserted++
	r.mu.Unlock()
	metrics.ObservePostUpserted()
}

func (r *runState) postSkipped() {
	r.mu.Lock()
	r.report.PostsSkipped++
	r.mu.Unlock()
}

func (r *runState) geocodeCall() {
	r.mu.Lock()
	r.report.GeocodeCalls++
	r.mu.Unlock()
}

// Run executes one full traversal and returns its report. The returned
// error is non-nil only when the run aborted outright.
func (p *Pipeline) Run(ctx context.Context) (ingest.CrawlRun, error) {
	id, err := p.ids.NewID()
	if err != nil {
		return ingest.CrawlRun{}, fmt.Errorf("new run id: %w", err)
	}
	run := &runState{report: ingest.CrawlRun{ID: id, StartedAt: p.clock.Now()}}
	metrics.SetRunActive(true)
	defer metrics.SetRunActive(false)
	p.logger.Info("crawl run started", zap.String("run_id", id))

	stubs, err := p.collectStubs(ctx, run)
	if err != nil {
		// Nothing to iterate: the very first listing fetch failed.
		run.addError(err)
		return p.finish(ctx, run, ingest.RunStatusFailed), err
	}
	run.report.TopicsSeen = len(stubs)

	p.processTopics(ctx, run, stubs)
	p.geocodeTopics(ctx, run)

	status := ingest.RunStatusSucceeded
	if ctx.Err() != nil {
		status = ingest.RunStatusCanceled
	}
	return p.finish(ctx, run, status), nil
}

// collectStubs paginates the forum index, bounded by MaxForumPages.
func (p *Pipeline) collectStubs(ctx context.Context, run *runState) ([]ingest.TopicStub, error) {
	var stubs []ingest.TopicStub
	seen := make(map[string]struct{})
	pageURL := p.cfg.ForumRootURL

	for page := 1; page <= p.cfg.MaxForumPages && pageURL != ""; page++ {
		if ctx.Err() != nil {
			break
		}
		resp, err := p.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("forum index fetch: %w", err)
			}
			p.logger.Warn("listing page failed", zap.String("url", pageURL), zap.Error(err))
			run.addError(err)
			break
		}
		run.pageFetched()
		metrics.ObservePage("listing", resp.StatusCode)

		listing, err := parse.Listing(pageURL, resp.Body, p.placeName)
		if err != nil {
			p.logger.Warn("listing page unparseable", zap.String("url", pageURL), zap.Error(err))
			run.addError(err)
			break
		}
		for _, stub := range listing.Stubs {
			if _, dup := seen[stub.ExternalID]; dup {
				continue
			}
			seen[stub.ExternalID] = struct{}{}
			stubs = append(stubs, stub)
		}
		pageURL = listing.NextPageURL
	}
	return stubs, nil
}

// processTopics fans topic crawls out to a bounded worker pool. Topics are
// picked up opportunistically; posts within a topic stay in parsed order.
func (p *Pipeline) processTopics(ctx context.Context, run *runState, stubs []ingest.TopicStub) {
	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrency)
	for _, stub := range stubs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.processTopic(ctx, run, stub)
			return nil
		})
	}
	// Workers record their own failures; nothing propagates.
	_ = g.Wait()
}

func (p *Pipeline) processTopic(ctx context.Context, run *runState, stub ingest.TopicStub) {
	topic := ingest.Topic{
		ExternalID: stub.ExternalID,
		Title:      stub.Title,
		PlaceName:  stub.PlaceName,
		URL:        stub.URL,
		LastSeenAt: p.clock.Now(),
	}
	if err := p.store.UpsertTopic(ctx, topic); err != nil {
		p.logger.Error("topic upsert failed", zap.String("topic", stub.ExternalID), zap.Error(err))
		run.addError(err)
		return
	}

	pageURL := stub.URL
	for page := 1; page <= p.cfg.MaxTopicPages && pageURL != ""; page++ {
		if ctx.Err() != nil {
			return
		}
		resp, err := p.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			p.logger.Warn("topic page failed",
				zap.String("topic", stub.ExternalID),
				zap.String("url", pageURL),
				zap.Error(err),
			)
			run.addError(err)
			return
		}
		run.pageFetched()
		metrics.ObservePage("topic", resp.StatusCode)

		thread, err := parse.Thread(stub.ExternalID, pageURL, resp.Body, p.clock.Now())
		if err != nil {
			p.logger.Warn("topic page unparseable", zap.String("url", pageURL), zap.Error(err))
			run.addError(err)
			return
		}
		if thread.Degraded > 0 {
			p.logger.Warn("messages dropped during parse",
				zap.String("topic", stub.ExternalID),
				zap.Int("count", thread.Degraded),
			)
		}
		for _, post := range thread.Posts {
			if err := p.applyPost(ctx, run, post); err != nil {
				run.addError(err)
			}
		}
		pageURL = thread.NextPageURL
	}
}

// applyPost classifies a parsed post against storage and writes it only
// when new or changed. A soft-deleted post is never resurrected.
func (p *Pipeline) applyPost(ctx context.Context, run *runState, post ingest.Post) error {
	existing, found, err := p.store.GetPost(ctx, post.ExternalID)
	if err != nil {
		return fmt.Errorf("lookup post %s: %w", post.ExternalID, err)
	}
	var stored *ingest.Post
	if found {
		stored = &existing
	}
	decision, err := p.classifier.ClassifyPost(post, stored)
	if err != nil {
		return err
	}
	switch decision {
	case dedup.New, dedup.Changed:
		if err := p.store.UpsertPost(ctx, post); err != nil {
			return fmt.Errorf("upsert post %s: %w", post.ExternalID, err)
		}
		run.postUpserted()
	case dedup.SkipDeleted:
		p.logger.Info("skipping deleted post",
			zap.String("post", post.ExternalID),
			zap.String("topic", post.TopicExternalID),
		)
		run.postSkipped()
	case dedup.Unchanged:
	}
	return nil
}

// geocodeTopics resolves coordinates for topics whose geocode data is
// absent or stale. Below-threshold results leave the topic untouched so
// the next staleness check retries it.
func (p *Pipeline) geocodeTopics(ctx context.Context, run *runState) {
	if ctx.Err() != nil {
		return
	}
	topics, err := p.store.TopicsNeedingGeocode(ctx, p.cfg.GeocodeStaleness)
	if err != nil {
		p.logger.Error("list topics needing geocode failed", zap.Error(err))
		run.addError(err)
		return
	}
	for _, topic := range topics {
		if ctx.Err() != nil {
			return
		}
		result, origin, err := p.geocoder.Resolve(ctx, topic.PlaceName)
		if origin == geocode.OriginRemote {
			run.geocodeCall()
		}
		if err != nil {
			if errors.Is(err, geocode.ErrLowConfidence) || errors.Is(err, geocode.ErrNoResult) {
				p.logger.Info("topic left ungeocoded",
					zap.String("topic", topic.ExternalID),
					zap.String("place", topic.PlaceName),
					zap.Error(err),
				)
				continue
			}
			p.logger.Warn("geocode failed", zap.String("place", topic.PlaceName), zap.Error(err))
			run.addError(err)
			continue
		}
		if err := p.store.UpdateTopicCoordinates(ctx, topic.ExternalID, result, p.clock.Now()); err != nil {
			p.logger.Error("coordinate update failed", zap.String("topic", topic.ExternalID), zap.Error(err))
			run.addError(err)
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, run *runState, status ingest.RunStatus) ingest.CrawlRun {
	run.mu.Lock()
	run.report.Status = status
	run.report.FinishedAt = p.clock.Now()
	report := run.report
	run.mu.Unlock()

	metrics.ObserveRun(string(status))
	p.logger.Info("crawl run finished",
		zap.String("run_id", report.ID),
		zap.String("status", string(status)),
		zap.Int("pages_fetched", report.PagesFetched),
		zap.Int("topics_seen", report.TopicsSeen),
		zap.Int("posts_upserted", report.PostsUpserted),
		zap.Int("geocode_calls", report.GeocodeCalls),
		zap.Int("errors", len(report.Errors)),
	)

	if p.publisher != nil && p.cfg.ReportTopic != "" {
		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, err := p.publisher.Publish(publishCtx, p.cfg.ReportTopic, report); err != nil {
			p.logger.Warn("run report publish failed", zap.Error(err))
		}
	}
	return report
}
