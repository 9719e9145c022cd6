package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
)

const (
	driverGeoKey        = "dispatch:drivers:geo"
	driverMetaKeyPrefix = "dispatch:drivers:meta:"

	// maxGeoLat is the latitude limit of Redis GEO (EPSG:3857).
	maxGeoLat = 85.05112878
)

// upsertScript applies a driver position only if it is not older than the
// stored one, so concurrent replicas cannot resurrect a stale ping.
// Timestamps are Unix milliseconds, which Lua numbers hold exactly.
var upsertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], 'updated_at')
if cur and tonumber(cur) > tonumber(ARGV[6]) then
	return 0
end
redis.call('GEOADD', KEYS[1], ARGV[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[2], 'class', ARGV[4], 'available', ARGV[5], 'updated_at', ARGV[6])
return 1
`)

// GeoIndex is a geo.Index backed by a Redis GEO set plus one metadata hash
// per driver. Replicas sharing a Redis see the same index.
type GeoIndex struct {
	client *redis.Client
}

// NewGeoIndex creates a new GeoIndex.
func NewGeoIndex(client *redis.Client) *GeoIndex {
	return &GeoIndex{client: client}
}

// Upsert stores a driver's position using GEOADD.
func (g *GeoIndex) Upsert(ctx context.Context, e geo.Entry) (bool, error) {
	if e.DriverID == "" || !e.Location.Valid() || math.Abs(e.Location.Lat) > maxGeoLat {
		return false, geo.ErrInvalidEntry
	}

	available := "0"
	if e.Available {
		available = "1"
	}
	res, err := upsertScript.Run(ctx, g.client,
		[]string{driverGeoKey, metaKey(e.DriverID)},
		e.DriverID,
		e.Location.Lng,
		e.Location.Lat,
		string(e.VehicleClass),
		available,
		e.UpdatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("geo upsert %s: %w", e.DriverID, err)
	}
	return res == 1, nil
}

// Remove deletes a driver from the geo set and drops its metadata.
func (g *GeoIndex) Remove(ctx context.Context, driverID string) error {
	pipe := g.client.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, driverID)
	pipe.Del(ctx, metaKey(driverID))
	_, err := pipe.Exec(ctx)
	return err
}

// QueryNearest searches the radius with GEOSEARCH and filters by the
// per-driver metadata.
func (g *GeoIndex) QueryNearest(ctx context.Context, q geo.Query) ([]geo.Candidate, error) {
	if q.K <= 0 || q.RadiusMeters <= 0 || !q.Center.Valid() {
		return nil, nil
	}

	results, err := g.client.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  q.Center.Lng,
			Latitude:   q.Center.Lat,
			Radius:     q.RadiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	pipe := g.client.Pipeline()
	metas := make([]*redis.SliceCmd, len(results))
	for i, r := range results {
		metas[i] = pipe.HMGet(ctx, metaKey(r.Name), "class", "available", "updated_at")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	candidates := make([]geo.Candidate, 0, len(results))
	for i, r := range results {
		vals, err := metas[i].Result()
		if err != nil || len(vals) != 3 || vals[0] == nil {
			continue
		}
		class := domain.VehicleClass(toString(vals[0]))
		if toString(vals[1]) != "1" || !class.Matches(q.VehicleClass) {
			continue
		}
		ms, _ := strconv.ParseInt(toString(vals[2]), 10, 64)
		loc := domain.Point{Lat: r.Latitude, Lng: r.Longitude}
		candidates = append(candidates, geo.Candidate{
			DriverID:       r.Name,
			Location:       loc,
			VehicleClass:   class,
			DistanceMeters: geo.Haversine(q.Center, loc),
			UpdatedAt:      time.UnixMilli(ms),
		})
	}

	geo.SortCandidates(candidates)
	if len(candidates) > q.K {
		candidates = candidates[:q.K]
	}
	return candidates, nil
}

// Len returns the number of indexed drivers.
func (g *GeoIndex) Len(ctx context.Context) (int, error) {
	n, err := g.client.ZCard(ctx, driverGeoKey).Result()
	return int(n), err
}

func metaKey(driverID string) string {
	return driverMetaKeyPrefix + driverID
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
