package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics tracks request counters for the metrics endpoint.
type Metrics struct {
	StoreTotal     atomic.Int64
	StoreErrors    atomic.Int64
	RecallTotal    atomic.Int64
	RecallErrors   atomic.Int64
	RecallDegraded atomic.Int64
}

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(engine Engine, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		// Request counters.
		fmt.Fprintf(w, "# HELP recalld_store_total Total contexts stored.\n")
		fmt.Fprintf(w, "# TYPE recalld_store_total counter\n")
		fmt.Fprintf(w, "recalld_store_total %d\n", metrics.StoreTotal.Load())

		fmt.Fprintf(w, "# HELP recalld_store_errors_total Total failed store requests.\n")
		fmt.Fprintf(w, "# TYPE recalld_store_errors_total counter\n")
		fmt.Fprintf(w, "recalld_store_errors_total %d\n", metrics.StoreErrors.Load())

		fmt.Fprintf(w, "# HELP recalld_recall_total Total recall requests served.\n")
		fmt.Fprintf(w, "# TYPE recalld_recall_total counter\n")
		fmt.Fprintf(w, "recalld_recall_total %d\n", metrics.RecallTotal.Load())

		fmt.Fprintf(w, "# HELP recalld_recall_errors_total Total failed recall requests.\n")
		fmt.Fprintf(w, "# TYPE recalld_recall_errors_total counter\n")
		fmt.Fprintf(w, "recalld_recall_errors_total %d\n", metrics.RecallErrors.Load())

		fmt.Fprintf(w, "# HELP recalld_recall_degraded_total Recalls answered without the persistent index.\n")
		fmt.Fprintf(w, "# TYPE recalld_recall_degraded_total counter\n")
		fmt.Fprintf(w, "recalld_recall_degraded_total %d\n", metrics.RecallDegraded.Load())

		// Engine gauges.
		if status, err := engine.Status(r.Context()); err == nil {
			fmt.Fprintf(w, "# HELP recalld_contexts_total Total contexts in the persistent index.\n")
			fmt.Fprintf(w, "# TYPE recalld_contexts_total gauge\n")
			fmt.Fprintf(w, "recalld_contexts_total %d\n", status.TotalContexts)

			fmt.Fprintf(w, "# HELP recalld_sessions_active Number of active sessions.\n")
			fmt.Fprintf(w, "# TYPE recalld_sessions_active gauge\n")
			fmt.Fprintf(w, "recalld_sessions_active %d\n", status.ActiveSessions)

			fmt.Fprintf(w, "# HELP recalld_index_bytes Persistent index size in bytes.\n")
			fmt.Fprintf(w, "# TYPE recalld_index_bytes gauge\n")
			fmt.Fprintf(w, "recalld_index_bytes %d\n", status.MemoryUsageBytes)

			fmt.Fprintf(w, "# HELP recalld_retrieval_avg_ms Average retrieval latency over the recent window.\n")
			fmt.Fprintf(w, "# TYPE recalld_retrieval_avg_ms gauge\n")
			fmt.Fprintf(w, "recalld_retrieval_avg_ms %f\n", status.AvgRetrievalMS)
		}

		// Uptime.
		fmt.Fprintf(w, "# HELP recalld_uptime_seconds Seconds since the daemon started.\n")
		fmt.Fprintf(w, "# TYPE recalld_uptime_seconds gauge\n")
		fmt.Fprintf(w, "recalld_uptime_seconds %.0f\n", time.Since(startTime).Seconds())

		// Go runtime metrics.
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
		fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
		fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

		fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
		fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)

		fmt.Fprintf(w, "# HELP go_memstats_sys_bytes Total bytes of memory obtained from the OS.\n")
		fmt.Fprintf(w, "# TYPE go_memstats_sys_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_sys_bytes %d\n", mem.Sys)
	}
}
