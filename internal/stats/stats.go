package stats

import (
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"
)

const mapName = "go-community-stats"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater keeps counters in an expvar map and applies updates on a
// single goroutine so callers on hot paths never contend on the map.
type StatsUpdater struct {
	log      *log.Logger
	vars     *expvar.Map
	updates  chan metricsUpdate
	stopOnce sync.Once
	done     chan struct{}
}

type metricsUpdate struct {
	name  string
	delta int64
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string]any{mapName: su.Snapshot()})
}

// NewStatsUpdater registers GET /debug/vars on mux. The map is not published
// to the global expvar registry so more than one updater can exist.
func NewStatsUpdater(mux *http.ServeMux, logger *log.Logger) *StatsUpdater {
	su := &StatsUpdater{
		log:     logger,
		vars:    new(expvar.Map).Init(),
		updates: make(chan metricsUpdate, 512),
		done:    make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))

	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
	su.vars.Set("Goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	return su
}

// Snapshot returns the current value of every metric.
func (su *StatsUpdater) Snapshot() map[string]any {
	out := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		out[kv.Key] = value
	})
	return out
}

func (su *StatsUpdater) apply(u metricsUpdate) {
	metric, ok := su.vars.Get(u.name).(*expvar.Int)
	if !ok {
		su.log.Printf("stats: unknown metric %q", u.name)
		return
	}
	metric.Add(u.delta)
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for u := range su.updates {
		su.apply(u)
	}
}

func (su *StatsUpdater) send(u metricsUpdate) {
	defer func() {
		// updates after Stop are discarded
		recover()
	}()

	select {
	case su.updates <- u:
	default:
		su.log.Printf("stats: update queue full, dropping %s", u.name)
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.send(metricsUpdate{name: name, delta: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.send(metricsUpdate{name: name, delta: -1})
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop closes the update queue and waits for pending updates when Run was
// called.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.updates)
	})
}

// Wait blocks until the update loop has drained after Stop.
func (su *StatsUpdater) Wait() {
	<-su.done
}

var _ StatsProvider = (*StatsUpdater)(nil)
