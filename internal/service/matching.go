package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/observability"
)

const (
	defaultMaxCandidates      = 5
	defaultSearchRadiusMeters = 5000.0
)

// MatchingConfig tunes candidate selection.
type MatchingConfig struct {
	MaxCandidates      int           // K nearest drivers considered per attempt
	SearchRadiusMeters float64       // search radius around the pickup
	AssumedSpeedMps    float64       // straight-line ETA speed when routing fails
	ETATimeout         time.Duration // per-candidate routing deadline; zero means none
}

// DefaultMatchingConfig returns the default matching configuration.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		MaxCandidates:      defaultMaxCandidates,
		SearchRadiusMeters: defaultSearchRadiusMeters,
		AssumedSpeedMps:    DefaultAssumedSpeedMps,
	}
}

// Candidate is a driver ranked for a ride request.
type Candidate struct {
	DriverID       string
	Location       domain.Point
	DistanceMeters float64
	ETA            time.Duration
}

// Ranker produces the ordered candidates for a request.
type Ranker interface {
	Rank(ctx context.Context, req *domain.RideRequest, exclude []string) ([]Candidate, error)
}

// MatchingEngine ranks the nearest available drivers for a request by ETA.
// It is greedy and stateless: each request is ranked on its own.
type MatchingEngine struct {
	index  geo.Index
	eta    ETAEstimator
	cfg    MatchingConfig
	logger *slog.Logger
}

var _ Ranker = (*MatchingEngine)(nil)

// NewMatchingEngine creates a new MatchingEngine. eta may be nil, in which
// case ETAs come from straight-line distance.
func NewMatchingEngine(index geo.Index, eta ETAEstimator, cfg MatchingConfig, logger *slog.Logger) *MatchingEngine {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if cfg.SearchRadiusMeters <= 0 {
		cfg.SearchRadiusMeters = defaultSearchRadiusMeters
	}
	if cfg.AssumedSpeedMps <= 0 {
		cfg.AssumedSpeedMps = DefaultAssumedSpeedMps
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &MatchingEngine{index: index, eta: eta, cfg: cfg, logger: logger}
}

// Rank returns up to MaxCandidates drivers ordered by ETA, ties by driver ID.
// Returns ErrNoDriversAvailable when nobody qualifies.
func (m *MatchingEngine) Rank(ctx context.Context, req *domain.RideRequest, exclude []string) ([]Candidate, error) {
	found, err := m.index.QueryNearest(ctx, geo.Query{
		Center:       req.Pickup,
		K:            m.cfg.MaxCandidates + len(exclude),
		RadiusMeters: m.cfg.SearchRadiusMeters,
		VehicleClass: req.VehicleClass,
	})
	if err != nil {
		return nil, fmt.Errorf("query nearest drivers: %w", err)
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	candidates := make([]Candidate, 0, len(found))
	for _, f := range found {
		if _, ok := skip[f.DriverID]; ok {
			continue
		}
		candidates = append(candidates, Candidate{
			DriverID:       f.DriverID,
			Location:       f.Location,
			DistanceMeters: f.DistanceMeters,
			ETA:            m.estimate(ctx, f.Location, req.Pickup, f.DistanceMeters),
		})
		if len(candidates) == m.cfg.MaxCandidates {
			break
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoDriversAvailable
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ETA != candidates[j].ETA {
			return candidates[i].ETA < candidates[j].ETA
		}
		return candidates[i].DriverID < candidates[j].DriverID
	})
	return candidates, nil
}

func (m *MatchingEngine) estimate(ctx context.Context, from, to domain.Point, meters float64) time.Duration {
	if m.eta != nil {
		if m.cfg.ETATimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.cfg.ETATimeout)
			defer cancel()
		}
		eta, err := m.eta.EstimateETA(ctx, from, to)
		if err == nil {
			return eta
		}
		observability.ETALookupsTotal.WithLabelValues("matching", "fallback").Inc()
		m.logger.Debug("eta lookup failed, using straight line", "error", err)
	}
	return straightLineETA(meters, m.cfg.AssumedSpeedMps)
}
