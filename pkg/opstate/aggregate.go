package opstate

import (
	"fmt"

	"github.com/google/btree"

	"github.com/cascadedb/cascade/pkg/common"
)

// CountState tracks COUNT(*) or COUNT(expr) across inserts and retractions.
type CountState struct {
	n int64
}

// Add increments the count by delta (delta is negative for a retraction).
func (s *CountState) Add(delta int64) { s.n += delta }

// Value returns the current count.
func (s *CountState) Value() int64 { return s.n }

// SumState tracks SUM(expr) as a running total that can be decremented on
// retraction, avoiding a state-table rescan on every update.
type SumState struct {
	sum   float64
	isSet bool
}

// Add adds delta to the running sum (negative for a retraction).
func (s *SumState) Add(delta float64) {
	s.sum += delta
	s.isSet = true
}

// Value returns the current sum and whether any row has contributed to it
// (SUM of zero rows is NULL, not zero).
func (s *SumState) Value() (float64, bool) { return s.sum, s.isSet }

// extremeFactor sizes the candidate cache relative to 1, the same
// runway-for-retractions idea the top-N cache's high tier uses.
const extremeFactor = 8

// extremeItem is one candidate value under MIN/MAX tracking, ordered by
// value with a tiebreak so equal values from distinct rows don't collide.
type extremeItem struct {
	value    common.Datum
	dt       common.DataType
	tiebreak string
}

func (a extremeItem) Less(than btree.Item) bool {
	b := than.(extremeItem)
	if c := common.CompareDatum(a.value, b.value, a.dt); c != 0 {
		return c < 0
	}
	return a.tiebreak < b.tiebreak
}

// ExtremeState tracks MIN or MAX over a group's column without rescanning
// the state table on every retraction: it caches up to cacheSize*extremeFactor
// of the smallest (or largest) values seen, one entry per row (equal values
// are told apart by row key), evicting the least extreme entry when full, and
// only falls back to a state-table scan when a retraction empties the cache
// entirely.
type ExtremeState struct {
	dt        common.DataType
	max       bool // true for MAX, false for MIN
	cacheSize int
	cache     *btree.BTree
}

// NewExtremeState returns an ExtremeState for a column of type dt, tracking
// MAX if max is true, MIN otherwise, caching up to cacheSize*extremeFactor
// candidate values.
func NewExtremeState(dt common.DataType, max bool, cacheSize int) *ExtremeState {
	return &ExtremeState{
		dt:        dt,
		max:       max,
		cacheSize: cacheSize,
		cache:     btree.New(32),
	}
}

func (s *ExtremeState) item(v common.Datum, tiebreak string) extremeItem {
	return extremeItem{value: v, dt: s.dt, tiebreak: tiebreak}
}

// front returns the current extreme candidate: the btree's Max for MAX
// tracking, Min for MIN tracking.
func (s *ExtremeState) front() btree.Item {
	if s.max {
		return s.cache.Max()
	}
	return s.cache.Min()
}

func (s *ExtremeState) back() btree.Item {
	if s.max {
		return s.cache.Min()
	}
	return s.cache.Max()
}

// Insert adds one candidate value, identified by rowKey (the row's primary
// key, used only to disambiguate duplicate values).
func (s *ExtremeState) Insert(v common.Datum, rowKey common.Row) {
	item := s.item(v, fmt.Sprintf("%v", rowKey.Values))
	s.cache.ReplaceOrInsert(item)
	for s.cache.Len() > s.cacheSize*extremeFactor {
		s.cache.Delete(s.back())
	}
}

// Retract removes one candidate value. needsRefill is true if the cache is
// now empty and the caller must reload candidates from the state table
// before Value can be trusted again.
func (s *ExtremeState) Retract(v common.Datum, rowKey common.Row) (needsRefill bool) {
	item := s.item(v, fmt.Sprintf("%v", rowKey.Values))
	s.cache.Delete(item)
	return s.cache.Len() == 0
}

// Value returns the current extreme value and whether the cache holds any
// candidates (false means the caller must refill from the state table).
func (s *ExtremeState) Value() (common.Datum, bool) {
	f := s.front()
	if f == nil {
		return common.Datum{}, false
	}
	return f.(extremeItem).value, true
}

// Len reports how many candidate values are currently cached.
func (s *ExtremeState) Len() int { return s.cache.Len() }
