package metrics

import (
	"encoding/json"
	"maps"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics endpoint.
type Summary struct {
	HTTP      httpSummary   `json:"http"`
	RateLimit rateLimitInfo `json:"rateLimit"`
	Users     usersInfo     `json:"users"`
	Collector collectorInfo `json:"collector"`
	Auth      authInfo      `json:"auth"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type usersInfo struct {
	Conflicts float64 `json:"conflicts"`
}

type collectorInfo struct {
	BufferSize   float64 `json:"bufferSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Activities   float64 `json:"activities"`
}

type authInfo struct {
	Failures  float64 `json:"failures"`
	Successes float64 `json:"successes"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	MaxConns       float64 `json:"maxConns"`
	TotalConns     float64 `json:"totalConns"`
	IdleConns      float64 `json:"idleConns"`
	AcquiredConns  float64 `json:"acquiredConns"`
	Acquires       float64 `json:"acquires"`
	WaitedAcquires float64 `json:"waitedAcquires"`
	AvgAcquireMs   float64 `json:"avgAcquireMs"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Summary{}, err
	}
	s := make(snapshot, len(families))
	for _, f := range families {
		s[f.GetName()] = f
	}

	const (
		requests = "riff_http_requests_total"
		latency  = "riff_http_request_duration_seconds"
		flushes  = "riff_collector_flushes_total"
		acquires = "riff_db_pool_acquires_total"
	)

	requestTotal := s.total(requests, nil)
	var errorRate float64
	if requestTotal > 0 {
		errorRate = s.total(requests, failedRequest) / requestTotal
	}

	succeeded := s.total(acquires, labelIs("outcome", "immediate")) + s.total(acquires, labelIs("outcome", "waited"))
	var avgAcquireMs float64
	if succeeded > 0 {
		avgAcquireMs = s.total("riff_db_pool_acquire_seconds_total", nil) / succeeded * 1000
	}

	start := s.total("riff_server_start_time_seconds", nil)
	return Summary{
		HTTP: httpSummary{
			TotalRequests: requestTotal,
			ErrorRate:     errorRate,
			P50Latency:    s.quantile(latency, 0.50),
			P95Latency:    s.quantile(latency, 0.95),
			P99Latency:    s.quantile(latency, 0.99),
		},
		RateLimit: rateLimitInfo{Rejections: s.total("riff_ratelimit_rejections_total", nil)},
		Users:     usersInfo{Conflicts: s.total("riff_user_conflicts_total", nil)},
		Collector: collectorInfo{
			BufferSize:   s.total("riff_collector_buffer_size", nil),
			TotalFlushes: s.total(flushes, nil),
			FlushErrors:  s.total(flushes, labelIs("status", "error")),
			Activities:   s.total("riff_collector_activities_total", nil),
		},
		Auth: authInfo{
			Failures:  s.total("riff_auth_failures_total", nil),
			Successes: s.total("riff_auth_successes_total", nil),
		},
		DB: dbInfo{
			MaxConns:       s.total("riff_db_pool_max_conns", nil),
			TotalConns:     s.total("riff_db_pool_conns", nil),
			IdleConns:      s.total("riff_db_pool_conns", labelIs("state", "idle")),
			AcquiredConns:  s.total("riff_db_pool_conns", labelIs("state", "acquired")),
			Acquires:       succeeded,
			WaitedAcquires: s.total(acquires, labelIs("outcome", "waited")),
			AvgAcquireMs:   avgAcquireMs,
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

// snapshot is one gather of the registry, keyed by family name.
type snapshot map[string]*dto.MetricFamily

type labelMatcher func(labels map[string]string) bool

func labelIs(name, value string) labelMatcher {
	return func(labels map[string]string) bool { return labels[name] == value }
}

// failedRequest matches 4xx and 5xx responses.
func failedRequest(labels map[string]string) bool {
	code := labels["status_code"]
	return strings.HasPrefix(code, "4") || strings.HasPrefix(code, "5")
}

// total adds up the counter and gauge samples of a family, optionally only
// those whose labels match.
func (s snapshot) total(name string, match labelMatcher) float64 {
	var sum float64
	for _, m := range s[name].GetMetric() {
		if match != nil {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if !match(labels) {
				continue
			}
		}
		switch {
		case m.GetCounter() != nil:
			sum += m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			sum += m.GetGauge().GetValue()
		}
	}
	return sum
}

// quantile estimates the q-quantile of a histogram family across all its
// label sets, interpolating linearly inside the bucket that holds the rank.
// Ranks in the +Inf bucket report the largest finite bound.
func (s snapshot) quantile(name string, q float64) float64 {
	cumulative := make(map[float64]uint64)
	var count uint64
	for _, m := range s[name].GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		count += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			cumulative[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if count == 0 {
		return 0
	}

	rank := q * float64(count)
	var lower float64
	var below uint64
	for _, upper := range slices.Sorted(maps.Keys(cumulative)) {
		if math.IsInf(upper, 1) {
			break
		}
		n := cumulative[upper]
		if float64(n) >= rank {
			if n == below {
				return upper
			}
			return lower + (upper-lower)*(rank-float64(below))/float64(n-below)
		}
		lower, below = upper, n
	}
	return lower
}
