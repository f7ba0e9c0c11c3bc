// Social-feed polling source, using a feed-fetch-then-diff loop.
package signalingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/pkg/logger"
)

// SocialPoller periodically polls configured feed URLs and feeds new
// entries into the ingestor as source=social signals. Each feed entry's
// GUID is tracked so re-polling the same feed does not resubmit entries
// already accepted (Signal's (source, dedupe_hash) uniqueness is the
// final backstop; this cache just avoids redundant Accept calls).
type SocialPoller struct {
	ingestor *Ingestor
	parser   *gofeed.Parser
	feedURLs []string
	seen     map[string]bool
}

// NewSocialPoller creates a poller over feedURLs (company mentions,
// target-account RSS/Atom feeds).
func NewSocialPoller(ingestor *Ingestor, feedURLs []string) *SocialPoller {
	return &SocialPoller{
		ingestor: ingestor,
		parser:   gofeed.NewParser(),
		feedURLs: feedURLs,
		seen:     make(map[string]bool),
	}
}

// Run polls every feed once. Callers schedule this on a ticker (see
// cmd/worker's runSocialPoller).
func (p *SocialPoller) Run(ctx context.Context) {
	for _, url := range p.feedURLs {
		if err := p.pollOne(ctx, url); err != nil {
			logger.Warn("social feed poll failed", "url", url, "error", err.Error())
		}
	}
}

func (p *SocialPoller) pollOne(ctx context.Context, url string) error {
	feed, err := p.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return fmt.Errorf("parse feed: %w", err)
	}

	for _, item := range feed.Items {
		postID := item.GUID
		if postID == "" {
			postID = item.Link
		}
		key := feedEntryKey(url, postID)
		if p.seen[key] {
			continue
		}
		p.seen[key] = true

		publishedAt := time.Now().UTC()
		if item.PublishedParsed != nil {
			publishedAt = item.PublishedParsed.UTC()
		}

		payload := map[string]interface{}{
			"post_id":      postID,
			"title":        item.Title,
			"link":         item.Link,
			"published_at": publishedAt.Format(time.RFC3339),
			"feed_url":     url,
		}
		if _, err := p.ingestor.Accept(ctx, domain.SourceSocial, "mention", payload); err != nil {
			logger.Warn("social signal accept failed", "post_id", postID, "error", err.Error())
		}
	}
	return nil
}

func feedEntryKey(feedURL, postID string) string {
	h := sha256.Sum256([]byte(feedURL + "|" + postID))
	return hex.EncodeToString(h[:8])
}
