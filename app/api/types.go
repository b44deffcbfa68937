package api

import (
	"context"
	"time"

	"github.com/recoverymap/aggregator/app/cache"
	"github.com/recoverymap/aggregator/app/database"
	"github.com/recoverymap/aggregator/app/feed"
	"github.com/recoverymap/aggregator/app/scrape"
)

// ScraperInterface is the control surface the API exposes over the scrape
// orchestrator.
type ScraperInterface interface {
	Start() (scrape.Snapshot, error)
	Step(ctx context.Context) (scrape.Snapshot, error)
	Stop() (scrape.Snapshot, error)
	Reset() (scrape.Snapshot, error)
	Status() scrape.Snapshot
}

var _ ScraperInterface = (*scrape.Orchestrator)(nil)

type Handler struct {
	meetingRepo  database.MeetingRepository
	sources      *feed.SourceCache
	scraper      ScraperInterface
	respCache    *cache.Cache
	listingTTL   time.Duration
	aggregateTTL time.Duration
}
