// Package dashboard computes the per-user dashboard aggregate served by the
// dashboard endpoints and binds it to the aggregate cache.
package dashboard

import (
	"time"

	"permit-management-api/internal/cache"
	"permit-management-api/internal/models"

	"gorm.io/gorm"
)

// recentLimit caps the number of requests listed on the dashboard.
const recentLimit = 5

// Aggregate is the dashboard view for one user: their request counts by
// status plus the most recent requests. It is built once per cache miss and
// served by reference afterwards, so treat it as read-only.
type Aggregate struct {
	UserID      string                 `json:"userId"`
	Pending     int64                  `json:"pending"`
	Approved    int64                  `json:"approved"`
	Rejected    int64                  `json:"rejected"`
	Revoked     int64                  `json:"revoked"`
	Total       int64                  `json:"total"`
	Recent      []models.AccessRequest `json:"recent"`
	GeneratedAt time.Time              `json:"generatedAt"`
}

// Cache memoizes dashboard aggregates keyed by user ID and DB handle.
type Cache = cache.AggregateCache[*gorm.DB, *Aggregate]

// NewCache constructs the dashboard cache around Build.
func NewCache(opts cache.Options) *Cache {
	return cache.New[*gorm.DB, *Aggregate](Build, opts)
}

// Build is the cache's collaborator factory. It queries the given DB handle
// for the user's request counts grouped by status and their most recent
// requests.
func Build(identifier string, client *gorm.DB, _ cache.GetOptions) (*Aggregate, error) {
	agg := &Aggregate{
		UserID:      identifier,
		Recent:      []models.AccessRequest{},
		GeneratedAt: time.Now(),
	}

	type row struct {
		Status string
		Count  int64
	}

	var rows []row
	if err := client.Model(&models.AccessRequest{}).
		Select("status, COUNT(*) as count").
		Where("requester_id = ?", identifier).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	for _, r := range rows {
		switch models.RequestStatus(r.Status) {
		case models.StatusPending:
			agg.Pending = r.Count
		case models.StatusApproved:
			agg.Approved = r.Count
		case models.StatusRejected:
			agg.Rejected = r.Count
		case models.StatusRevoked:
			agg.Revoked = r.Count
		}
		agg.Total += r.Count
	}

	if err := client.
		Where("requester_id = ?", identifier).
		Order("created_at desc").
		Limit(recentLimit).
		Find(&agg.Recent).Error; err != nil {
		return nil, err
	}

	return agg, nil
}
