package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/repository"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

const (
	// adminStatsCacheKey is suffixed with the current generation. Invalidating stats:* drops the
	// generation, so an aggregate computed before a write lands under a key nobody reads.
	adminStatsCacheKey      = "stats:admin:"
	statsGenerationCacheKey = "stats:generation"
	statsGenerationTTL      = 24 * time.Hour
)

// StatsService aggregates the admin dashboard counters.
type StatsService struct {
	forms    admissionLister
	requests changeRequestLister
	cache    *CacheService
	ttl      time.Duration
	logger   *zap.Logger
}

// NewStatsService constructs the statistics aggregate.
func NewStatsService(forms admissionLister, requests changeRequestLister, cache *CacheService, ttl time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{forms: forms, requests: requests, cache: cache, ttl: ttl, logger: logger}
}

// GetStats scans admission forms and change requests concurrently. totalUsers counts
// admission forms; totalRevenue sums the fee of approved forms that have one.
func (s *StatsService) GetStats(ctx context.Context) (*models.AdminStats, error) {
	stats, _, err := s.Lookup(ctx)
	return stats, err
}

// Lookup returns the statistics and whether they were served from cache.
func (s *StatsService) Lookup(ctx context.Context) (*models.AdminStats, bool, error) {
	key := adminStatsCacheKey + s.generation(ctx)
	var cached models.AdminStats
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	var (
		forms    []models.AdmissionForm
		requests []models.ChangeRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		forms, err = s.forms.List(gctx, repository.AdmissionFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		requests, err = s.requests.List(gctx, repository.ChangeRequestFilter{Status: models.StatusPending})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, appErrors.Persistence(err, "failed to load statistics")
	}

	stats := &models.AdminStats{TotalUsers: len(forms)}
	for _, form := range forms {
		switch form.Status {
		case models.StatusPending:
			stats.PendingAdmissions++
		case models.StatusApproved:
			stats.ApprovedAdmissions++
			if form.MonthlyAmount != nil {
				stats.TotalRevenue += *form.MonthlyAmount
			}
		case models.StatusRejected:
			stats.RejectedAdmissions++
		}
	}
	for _, request := range requests {
		if request.Status == models.StatusPending {
			stats.PendingChangeRequests++
		}
	}

	_ = s.cache.Set(ctx, key, stats, s.ttl)
	return stats, false, nil
}

func (s *StatsService) generation(ctx context.Context) string {
	var gen string
	if hit, _ := s.cache.Get(ctx, statsGenerationCacheKey, &gen); hit && gen != "" {
		return gen
	}
	gen = uuid.NewString()
	_ = s.cache.Set(ctx, statsGenerationCacheKey, gen, statsGenerationTTL)
	return gen
}
