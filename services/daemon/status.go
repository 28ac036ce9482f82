package daemon

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boardsync/pkg/telemetry"
	"boardsync/services/state"
)

// Status is the body of GET /status. The cached API key is never exposed.
type Status struct {
	FirstBootCompleted bool                `json:"first_boot_completed"`
	LastSync           *time.Time          `json:"last_sync,omitempty"`
	DiscoveredApps     int                 `json:"discovered_apps"`
	Removed            map[string][]string `json:"removed"`
	LastCycle          *SyncCompleted      `json:"last_cycle,omitempty"`
}

// Handler builds the status router.
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware("boardsync-status", d.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !d.ready() {
			http.Error(w, "no successful sync yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.metrics.registry, promhttp.HandlerOpts{}))

	r.Get("/status", d.handleStatus)

	return r
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := d.store.Load()
	if err != nil && st == nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body := Summarize(st)
	if last, ok := d.Last(); ok {
		body.LastCycle = &last
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Summarize reports st without its credential.
func Summarize(st *state.State) Status {
	body := Status{
		FirstBootCompleted: st.FirstBootCompleted,
		LastSync:           st.LastSync,
		DiscoveredApps:     len(st.DiscoveredApps),
		Removed:            make(map[string][]string, len(st.Removed)),
	}
	for board, urls := range st.Removed {
		list := make([]string, 0, len(urls))
		for u := range urls {
			list = append(list, u)
		}
		sort.Strings(list)
		body.Removed[board] = list
	}
	return body
}
