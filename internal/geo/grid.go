package geo

import (
	"context"
	"errors"
	"math"
	"sync"

	"ridedispatch/internal/domain"
)

// DefaultCellDegrees is the default grid cell edge, roughly 1.1 km of latitude.
const DefaultCellDegrees = 0.01

// ErrInvalidEntry is returned when an entry has no driver id or an invalid location.
var ErrInvalidEntry = errors.New("invalid index entry")

// ringBoundSlack absorbs the gap between the planar cell bound and the
// great-circle distance for the small longitude spans searched by rings.
const ringBoundSlack = 0.95

// maxRingLngDegrees is the widest longitude span searched ring by ring;
// wider searches scan every entry.
const maxRingLngDegrees = 10.0

type cellKey struct {
	row, col int
}

type gridEntry struct {
	Entry
	cell cellKey
}

// GridIndex is an in-memory geospatial index bucketing drivers into a
// fixed lat/lng grid. Upserts and removals touch at most two cells, so no
// rebuild is ever needed.
type GridIndex struct {
	mu      sync.RWMutex
	latCell float64
	lngCell float64
	rows    int
	cols    int
	cells   map[cellKey]map[string]*gridEntry
	entries map[string]*gridEntry
}

// NewGridIndex creates a grid with cells cellDeg degrees wide.
// A non-positive cellDeg selects DefaultCellDegrees.
func NewGridIndex(cellDeg float64) *GridIndex {
	if cellDeg <= 0 {
		cellDeg = DefaultCellDegrees
	}
	rows := int(math.Max(1, math.Round(180/cellDeg)))
	cols := int(math.Max(3, math.Round(360/cellDeg)))
	return &GridIndex{
		latCell: 180 / float64(rows),
		lngCell: 360 / float64(cols),
		rows:    rows,
		cols:    cols,
		cells:   make(map[cellKey]map[string]*gridEntry),
		entries: make(map[string]*gridEntry),
	}
}

var _ Index = (*GridIndex)(nil)

// Upsert inserts or moves a driver. Entries older than the indexed one are
// dropped and reported as not applied.
func (g *GridIndex) Upsert(_ context.Context, e Entry) (bool, error) {
	if e.DriverID == "" || !e.Location.Valid() {
		return false, ErrInvalidEntry
	}
	cell := g.cellFor(e.Location)

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.entries[e.DriverID]; ok {
		if e.UpdatedAt.Before(existing.UpdatedAt) {
			return false, nil
		}
		if existing.cell != cell {
			g.removeFromCell(existing)
		}
	}

	ge := &gridEntry{Entry: e, cell: cell}
	g.entries[e.DriverID] = ge
	bucket, ok := g.cells[cell]
	if !ok {
		bucket = make(map[string]*gridEntry)
		g.cells[cell] = bucket
	}
	bucket[e.DriverID] = ge
	return true, nil
}

// Remove drops a driver from the index. Removing an unknown driver is a no-op.
func (g *GridIndex) Remove(_ context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.entries[driverID]
	if !ok {
		return nil
	}
	g.removeFromCell(existing)
	delete(g.entries, driverID)
	return nil
}

// Len returns the number of indexed drivers.
func (g *GridIndex) Len(_ context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries), nil
}

// Get returns the indexed entry for a driver.
func (g *GridIndex) Get(driverID string) (Entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[driverID]
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}

// QueryNearest returns up to q.K available drivers within q.RadiusMeters.
func (g *GridIndex) QueryNearest(_ context.Context, q Query) ([]Candidate, error) {
	if q.K <= 0 || q.RadiusMeters <= 0 || !q.Center.Valid() {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var found []Candidate
	if plan, ok := g.planRings(q); ok {
		found = g.searchRings(q, plan)
	} else {
		found = g.scanAll(q)
	}

	SortCandidates(found)
	if len(found) > q.K {
		found = found[:q.K]
	}
	return found, nil
}

type ringPlan struct {
	center       cellKey
	maxRing      int
	minCellMeter float64
}

// planRings decides whether the query can be answered by expanding rings
// around the center cell, and how far the rings have to go.
func (g *GridIndex) planRings(q Query) (ringPlan, bool) {
	latDelta := q.RadiusMeters / metersPerDegreeLat
	maxAbsLat := math.Abs(q.Center.Lat) + latDelta
	if maxAbsLat >= 89 {
		return ringPlan{}, false
	}
	cosMin := math.Cos(degreesToRadians(maxAbsLat))
	lngDelta := latDelta / cosMin
	if lngDelta > maxRingLngDegrees {
		return ringPlan{}, false
	}

	rowRing := int(math.Ceil(latDelta / g.latCell))
	colRing := int(math.Ceil(lngDelta / g.lngCell))
	maxRing := rowRing
	if colRing > maxRing {
		maxRing = colRing
	}
	if 2*maxRing+1 >= g.cols {
		return ringPlan{}, false
	}

	cellHeight := g.latCell * metersPerDegreeLat
	cellWidth := g.lngCell * metersPerDegreeLat * cosMin
	return ringPlan{
		center:       g.cellFor(q.Center),
		maxRing:      maxRing,
		minCellMeter: math.Min(cellHeight, cellWidth) * ringBoundSlack,
	}, true
}

func (g *GridIndex) searchRings(q Query, plan ringPlan) []Candidate {
	var found []Candidate
	for d := 0; d <= plan.maxRing; d++ {
		if len(found) >= q.K && d > 0 {
			SortCandidates(found)
			// Every cell in ring d lies at least d-1 whole cells from the center point.
			if float64(d-1)*plan.minCellMeter > found[q.K-1].DistanceMeters {
				break
			}
		}
		g.visitRing(plan.center, d, func(bucket map[string]*gridEntry) {
			for _, e := range bucket {
				if c, ok := match(q, e.Entry); ok {
					found = append(found, c)
				}
			}
		})
	}
	return found
}

func (g *GridIndex) scanAll(q Query) []Candidate {
	var found []Candidate
	for _, e := range g.entries {
		if c, ok := match(q, e.Entry); ok {
			found = append(found, c)
		}
	}
	return found
}

// visitRing calls fn for every populated cell on the square ring at
// Chebyshev distance d from center.
func (g *GridIndex) visitRing(center cellKey, d int, fn func(map[string]*gridEntry)) {
	for dr := -d; dr <= d; dr++ {
		row := center.row + dr
		if row < 0 || row >= g.rows {
			continue
		}
		step := 2 * d
		if dr == -d || dr == d || d == 0 {
			step = 1
		}
		for dc := -d; dc <= d; dc += step {
			col := wrap(center.col+dc, g.cols)
			if bucket, ok := g.cells[cellKey{row: row, col: col}]; ok {
				fn(bucket)
			}
		}
	}
}

func match(q Query, e Entry) (Candidate, bool) {
	if !e.Available || !e.VehicleClass.Matches(q.VehicleClass) {
		return Candidate{}, false
	}
	dist := Haversine(q.Center, e.Location)
	if dist > q.RadiusMeters {
		return Candidate{}, false
	}
	return Candidate{
		DriverID:       e.DriverID,
		Location:       e.Location,
		VehicleClass:   e.VehicleClass,
		DistanceMeters: dist,
		UpdatedAt:      e.UpdatedAt,
	}, true
}

func (g *GridIndex) cellFor(p domain.Point) cellKey {
	row := int(math.Floor((p.Lat + 90) / g.latCell))
	if row >= g.rows {
		row = g.rows - 1
	}
	col := wrap(int(math.Floor((p.Lng+180)/g.lngCell)), g.cols)
	return cellKey{row: row, col: col}
}

func (g *GridIndex) removeFromCell(e *gridEntry) {
	bucket, ok := g.cells[e.cell]
	if !ok {
		return
	}
	delete(bucket, e.DriverID)
	if len(bucket) == 0 {
		delete(g.cells, e.cell)
	}
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
