package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"imagevault/images/domain"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultSweepInterval is how often the periodic sweep runs
	DefaultSweepInterval = 10 * time.Minute

	// soonExpiringWindow is the Stats lookahead for uploads about to expire
	soonExpiringWindow = time.Hour
)

// SweepError records a single image that could not be reaped.
type SweepError struct {
	ImageID string
	Err     error
}

// SweepResult summarizes one cleanup pass.
type SweepResult struct {
	TotalExpired int
	DeletedCount int
	Errors       []SweepError
}

// CleanupService reaps expired, never-confirmed temporary uploads. It runs
// on a timer and on demand; per-image failures are collected and logged but
// never abort the rest of the sweep.
type CleanupService struct {
	images   domain.ImageRepository
	interval time.Duration

	// now is injectable so expiry behavior is testable without sleeping
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

func NewCleanupService(images domain.ImageRepository, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	return &CleanupService{
		images:   images,
		interval: interval,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		wg:       &wg,
	}
}

// Start launches the periodic sweep loop.
func (s *CleanupService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				result, err := s.Sweep(s.ctx)
				if err != nil {
					log.Error().Err(err).Msg("Cleanup sweep failed")
					continue
				}
				if result.TotalExpired > 0 {
					log.Info().
						Int("total_expired", result.TotalExpired).
						Int("deleted", result.DeletedCount).
						Int("errors", len(result.Errors)).
						Msg("Cleanup sweep completed")
				}
			}
		}
	}()
}

// Close gracefully stops the periodic sweep loop
func (s *CleanupService) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Sweep finds expired temporary images and deletes them one by one. Each
// delete re-checks eligibility in a conditional statement, so an image
// confirmed after the candidate listing is never touched. Only a failure to
// list candidates fails the sweep itself.
func (s *CleanupService) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()

	ids, err := s.images.ListExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired images: %w", err)
	}

	result := &SweepResult{TotalExpired: len(ids)}

	for _, id := range ids {
		deleted, err := s.images.DeleteIfExpired(ctx, id, now)
		if err != nil {
			log.Error().Err(err).Str("image_id", id).Msg("Failed to reap expired image")
			result.Errors = append(result.Errors, SweepError{ImageID: id, Err: err})
			continue
		}

		if deleted {
			result.DeletedCount++
			log.Info().Str("image_id", id).Msg("Reaped expired upload")
		}
		// Not deleted and no error means the image was confirmed between
		// the listing and the conditional delete; leave it alone
	}

	return result, nil
}

// Stats is a read-only diagnostic over the temporary-upload population.
func (s *CleanupService) Stats(ctx context.Context) (*domain.TempStats, error) {
	return s.images.TempStats(ctx, s.now(), soonExpiringWindow)
}
