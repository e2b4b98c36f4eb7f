package database

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StatisticsConfig controls in-memory query observability.
type StatisticsConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration
	SlowQueryCapacity  int
}

// shapeKeyLen bounds the normalized statement text used as the
// per-shape aggregation key.
const shapeKeyLen = 80

// Statistics aggregates query timings and connection gauges for one
// logical database. All counters are safe under concurrent recording;
// Reset racing a recording may land the in-flight update in either
// epoch but never corrupts state.
type Statistics struct {
	cfg StatisticsConfig

	totalQueries  atomic.Int64
	totalFailures atomic.Int64

	activeConns   atomic.Int64
	totalAcquired atomic.Int64
	maxConcurrent atomic.Int64

	mu     sync.Mutex
	shapes map[string]*shapeStat
	slow   []SlowQuery
}

type shapeStat struct {
	kind  string
	count int64
	total time.Duration
	max   time.Duration
}

// QueryStat is one per-shape aggregate in a statistics snapshot.
type QueryStat struct {
	Shape     string        `json:"shape"`
	Kind      string        `json:"kind"`
	Count     int64         `json:"count"`
	TotalTime time.Duration `json:"totalTime"`
	MaxTime   time.Duration `json:"maxTime"`
}

// SlowQuery is one entry of the bounded slow-query buffer.
type SlowQuery struct {
	Query    string        `json:"query"`
	Duration time.Duration `json:"duration"`
	When     time.Time     `json:"when"`
}

// Snapshot is a point-in-time export of all aggregates.
type Snapshot struct {
	TotalQueries  int64       `json:"totalQueries"`
	TotalFailures int64       `json:"totalFailures"`
	ActiveConns   int64       `json:"activeConnections"`
	TotalAcquired int64       `json:"totalAcquired"`
	MaxConcurrent int64       `json:"maxConcurrent"`
	Shapes        []QueryStat `json:"shapes"`
	SlowQueries   []SlowQuery `json:"slowQueries"`
}

func NewStatistics(cfg StatisticsConfig) *Statistics {
	if cfg.SlowQueryCapacity < 1 {
		cfg.SlowQueryCapacity = 100
	}
	return &Statistics{
		cfg:    cfg,
		shapes: make(map[string]*shapeStat),
	}
}

// RecordQuery records one executed statement, success or failure.
func (s *Statistics) RecordQuery(query string, d time.Duration, err error) {
	if !s.cfg.Enabled {
		return
	}
	s.totalQueries.Add(1)
	if err != nil {
		s.totalFailures.Add(1)
	}

	kind, shape := normalizeQuery(query)

	s.mu.Lock()
	st, ok := s.shapes[shape]
	if !ok {
		st = &shapeStat{kind: kind}
		s.shapes[shape] = st
	}
	st.count++
	st.total += d
	if d > st.max {
		st.max = d
	}

	if s.cfg.SlowQueryThreshold > 0 && d >= s.cfg.SlowQueryThreshold {
		s.slow = append(s.slow, SlowQuery{
			Query:    truncate(query, 200),
			Duration: d,
			When:     time.Now().UTC(),
		})
		if len(s.slow) > s.cfg.SlowQueryCapacity {
			s.slow = s.slow[len(s.slow)-s.cfg.SlowQueryCapacity:]
		}
	}
	s.mu.Unlock()
}

// RecordAcquire notes a connection handed to a borrower.
func (s *Statistics) RecordAcquire() {
	active := s.activeConns.Add(1)
	s.totalAcquired.Add(1)
	for {
		max := s.maxConcurrent.Load()
		if active <= max || s.maxConcurrent.CompareAndSwap(max, active) {
			return
		}
	}
}

// RecordRelease notes a connection returned to the pool.
func (s *Statistics) RecordRelease() {
	s.activeConns.Add(-1)
}

// ActiveConnections returns the current number of borrowed connections.
func (s *Statistics) ActiveConnections() int64 {
	return s.activeConns.Load()
}

// Snapshot exports all aggregates. The returned value is detached from
// live state.
func (s *Statistics) Snapshot() Snapshot {
	snap := Snapshot{
		TotalQueries:  s.totalQueries.Load(),
		TotalFailures: s.totalFailures.Load(),
		ActiveConns:   s.activeConns.Load(),
		TotalAcquired: s.totalAcquired.Load(),
		MaxConcurrent: s.maxConcurrent.Load(),
	}

	s.mu.Lock()
	snap.Shapes = make([]QueryStat, 0, len(s.shapes))
	for shape, st := range s.shapes {
		snap.Shapes = append(snap.Shapes, QueryStat{
			Shape:     shape,
			Kind:      st.kind,
			Count:     st.count,
			TotalTime: st.total,
			MaxTime:   st.max,
		})
	}
	snap.SlowQueries = make([]SlowQuery, len(s.slow))
	copy(snap.SlowQueries, s.slow)
	s.mu.Unlock()

	return snap
}

// Reset clears all counters and the slow-query buffer.
func (s *Statistics) Reset() {
	s.mu.Lock()
	s.shapes = make(map[string]*shapeStat)
	s.slow = nil
	s.mu.Unlock()

	s.totalQueries.Store(0)
	s.totalFailures.Store(0)
	s.totalAcquired.Store(0)
	s.maxConcurrent.Store(s.activeConns.Load())
}

// normalizeQuery reduces a statement to its leading keyword and a
// whitespace-collapsed, length-truncated shape key.
func normalizeQuery(query string) (kind, shape string) {
	collapsed := strings.Join(strings.Fields(query), " ")
	kind = "OTHER"
	if i := strings.IndexByte(collapsed, ' '); i > 0 {
		kind = strings.ToUpper(collapsed[:i])
	} else if collapsed != "" {
		kind = strings.ToUpper(collapsed)
	}
	switch kind {
	case "SELECT", "INSERT", "UPDATE", "DELETE":
	default:
		kind = "OTHER"
	}
	if len(collapsed) > shapeKeyLen {
		collapsed = collapsed[:shapeKeyLen]
	}
	return kind, collapsed
}
