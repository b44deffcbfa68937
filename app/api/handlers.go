package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/recoverymap/aggregator/app/cache"
	"github.com/recoverymap/aggregator/app/cfg"
	"github.com/recoverymap/aggregator/app/database"
	"github.com/recoverymap/aggregator/app/feed"
	"github.com/recoverymap/aggregator/app/scrape"
)

const (
	defaultListingLimit = 500
	maxListingLimit     = 2000
)

func NewHandler(meetingRepo database.MeetingRepository, sources *feed.SourceCache,
	scraper ScraperInterface, respCache *cache.Cache,
	listingTTL, aggregateTTL time.Duration) *Handler {
	return &Handler{
		meetingRepo:  meetingRepo,
		sources:      sources,
		scraper:      scraper,
		respCache:    respCache,
		listingTTL:   listingTTL,
		aggregateTTL: aggregateTTL,
	}
}

func (h *Handler) GetMeetings(c *gin.Context) {
	filter := database.MeetingFilter{
		State:      c.Query("state"),
		Fellowship: c.Query("fellowship"),
	}

	if dayParam := c.Query("day"); dayParam != "" {
		day, err := strconv.Atoi(dayParam)
		if err != nil || day < 0 || day > 6 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be an integer from 0 (Sunday) to 6 (Saturday)"})
			return
		}
		filter.Day = &day
	}

	limit := defaultListingLimit
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if parsed > maxListingLimit {
			parsed = maxListingLimit
		}
		limit = parsed
	}

	key := listingCacheKey(filter, limit)

	payload, err := h.respCache.GetOrCompute(key, h.listingTTL, func() (interface{}, error) {
		meetings, err := h.meetingRepo.ListMeetings(c.Request.Context(), filter, limit)
		if err != nil {
			return nil, err
		}

		items := make([]map[string]interface{}, 0, len(meetings))
		for _, m := range meetings {
			items = append(items, meetingResponse(m))
		}

		return gin.H{"meetings": items, "total": len(items)}, nil
	})
	if err != nil {
		slog.Error("Database error", "operation", "list_meetings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, payload)
}

func (h *Handler) GetStats(c *gin.Context) {
	payload, err := h.respCache.GetOrCompute(cache.StatsPrefix+"all", h.aggregateTTL, func() (interface{}, error) {
		stats, err := h.meetingRepo.GetStats(c.Request.Context())
		if err != nil {
			return nil, err
		}

		return gin.H{
			"total":         stats.Total,
			"online":        stats.Online,
			"hybrid":        stats.Hybrid,
			"by_state":      stats.ByState,
			"by_fellowship": stats.ByFellowship,
		}, nil
	})
	if err != nil {
		slog.Error("Database error", "operation", "get_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, payload)
}

func (h *Handler) GetCoverage(c *gin.Context) {
	payload, err := h.respCache.GetOrCompute(cache.CoveragePrefix+"all", h.aggregateTTL, func() (interface{}, error) {
		coverage, err := h.meetingRepo.CoverageByState(c.Request.Context())
		if err != nil {
			return nil, err
		}

		return gin.H{"coverage": coverage, "states": len(coverage)}, nil
	})
	if err != nil {
		slog.Error("Database error", "operation", "coverage_by_state", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, payload)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   cfg.GetVersion(),
	}

	if meetingCount, err := h.meetingRepo.GetMeetingCount(c.Request.Context()); err == nil {
		health["meetings"] = meetingCount
	}

	health["configured_sources"] = h.sources.Count()
	health["scraper_state"] = h.scraper.Status().State

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIStartScraper(c *gin.Context) {
	snapshot, err := h.scraper.Start()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": snapshot})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": snapshot})
}

func (h *Handler) APIStepScraper(c *gin.Context) {
	snapshot, err := h.scraper.Step(c.Request.Context())
	if err != nil {
		if errors.Is(err, scrape.ErrNotRunning) || errors.Is(err, scrape.ErrStepInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": snapshot})
			return
		}
		slog.Error("Scrape step failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": snapshot})
}

func (h *Handler) APIStopScraper(c *gin.Context) {
	snapshot, err := h.scraper.Stop()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": snapshot})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": snapshot})
}

func (h *Handler) APIResetScraper(c *gin.Context) {
	snapshot, err := h.scraper.Reset()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": snapshot})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": snapshot})
}

func (h *Handler) APIScraperStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scraper.Status())
}

// listingCacheKey derives a stable cache key from the listing query shape.
func listingCacheKey(filter database.MeetingFilter, limit int) string {
	day := "any"
	if filter.Day != nil {
		day = strconv.Itoa(*filter.Day)
	}
	return fmt.Sprintf("%sstate=%s&fellowship=%s&day=%s&limit=%d",
		cache.ListingPrefix, filter.State, filter.Fellowship, day, limit)
}

func meetingResponse(m database.Meeting) map[string]interface{} {
	resp := map[string]interface{}{
		"id":         m.ID,
		"name":       m.Name,
		"fellowship": m.Fellowship,
		"day":        m.Day,
		"time":       m.StartTime,
		"state":      m.State,
		"city":       m.City,
		"is_online":  m.IsOnline,
		"is_hybrid":  m.IsHybrid,
	}

	if m.EndTime != "" {
		resp["end_time"] = m.EndTime
	}
	if m.Timezone != "" {
		resp["timezone"] = m.Timezone
	}
	if m.Street != "" {
		resp["street"] = m.Street
	}
	if m.PostalCode != "" {
		resp["postal_code"] = m.PostalCode
	}
	if m.Venue != "" {
		resp["venue"] = m.Venue
	}
	if m.Latitude != nil && m.Longitude != nil {
		resp["latitude"] = *m.Latitude
		resp["longitude"] = *m.Longitude
	}
	if m.OnlineURL != "" {
		resp["online_url"] = m.OnlineURL
	}
	if m.ConferencePhone != "" {
		resp["conference_phone"] = m.ConferencePhone
	}
	if len(m.Types) > 0 {
		resp["types"] = m.Types
	}
	if m.Notes != "" {
		resp["notes"] = m.Notes
	}

	resp["source"] = map[string]interface{}{
		"feed":     m.SourceFeed,
		"protocol": m.Protocol,
	}
	resp["updated_at"] = m.UpdatedAt.Format(time.RFC3339)

	return resp
}
