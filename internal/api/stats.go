package api

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"flightassure/pkg/tracker"
)

// StatsHandler reports terrain source counters and process diagnostics.
type StatsHandler struct {
	tracker *tracker.Tracker
	gauges  map[string]func() int
	breaker func() string

	mu      sync.Mutex
	maxHeap uint64
	started time.Time
}

// NewStatsHandler creates the handler. gauges are sampled on every request
// (oracle cache size, cached results, websocket clients); breaker may be nil.
func NewStatsHandler(t *tracker.Tracker, gauges map[string]func() int, breaker func() string) *StatsHandler {
	return &StatsHandler{tracker: t, gauges: gauges, breaker: breaker, started: time.Now()}
}

type SourceStatsDTO struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	Success     int64 `json:"success"`
	NoData      int64 `json:"no_data"`
	Failures    int64 `json:"failures"`
	HitRate     int64 `json:"hit_rate"`
}

type DiagnosticsDTO struct {
	HeapMB     uint64 `json:"heap_mb"`
	HeapMaxMB  uint64 `json:"heap_max_mb"`
	Goroutines int    `json:"goroutines"`
	UptimeSec  int64  `json:"uptime_sec"`
}

type StatsResponse struct {
	Diagnostics  DiagnosticsDTO            `json:"diagnostics"`
	Sources      map[string]SourceStatsDTO `json:"sources"`
	Gauges       map[string]int            `json:"gauges"`
	BreakerState string                    `json:"breaker_state,omitempty"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Diagnostics: h.diagnostics(),
		Sources:     make(map[string]SourceStatsDTO),
		Gauges:      make(map[string]int, len(h.gauges)),
	}

	for name, s := range h.tracker.Snapshot() {
		hitRate := int64(0)
		if total := s.CacheHits + s.CacheMisses; total > 0 {
			hitRate = s.CacheHits * 100 / total
		}
		resp.Sources[name] = SourceStatsDTO{
			CacheHits:   s.CacheHits,
			CacheMisses: s.CacheMisses,
			Success:     s.Success,
			NoData:      s.NoData,
			Failures:    s.Failures,
			HitRate:     hitRate,
		}
	}
	for name, fn := range h.gauges {
		resp.Gauges[name] = fn()
	}
	if h.breaker != nil {
		resp.BreakerState = h.breaker()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) diagnostics() DiagnosticsDTO {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.Lock()
	if ms.HeapAlloc > h.maxHeap {
		h.maxHeap = ms.HeapAlloc
	}
	maxHeap := h.maxHeap
	h.mu.Unlock()

	return DiagnosticsDTO{
		HeapMB:     bToMb(ms.HeapAlloc),
		HeapMaxMB:  bToMb(maxHeap),
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(h.started).Seconds()),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
