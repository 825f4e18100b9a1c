package exporter

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/docsismon/internal/collector"
	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/events"
	"codeberg.org/mutker/docsismon/internal/logger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Enabled bool
	Listen  string
	// PollInterval is the minimum gap between manual polls.
	PollInterval time.Duration
	PollBurst    int
}

func DefaultConfig() Config {
	return Config{
		Listen:       "127.0.0.1:9476",
		PollInterval: 10 * time.Second,
		PollBurst:    1,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Listen == "" {
		return errors.New().WithData(errors.ErrInvalidConfig, "exporter.listen is required when the exporter is enabled")
	}
	return nil
}

// Orchestrator is the scheduler surface the API needs.
type Orchestrator interface {
	Trigger(ctx context.Context, source string) (collector.Result, error)
	Collectors() []collector.Collector
}

// EventSource lists stored events.
type EventSource interface {
	RecentEvents(ctx context.Context, limit int) ([]events.Event, error)
}

type Dependencies struct {
	Logger       logger.Logger
	Orchestrator Orchestrator
	Events       EventSource
	Gatherer     prometheus.Gatherer
}

type Server struct {
	*http.Server
	cfg     Config
	deps    Dependencies
	limiter *rate.Limiter
}

func New(cfg Config, deps Dependencies) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultConfig().Listen
	}
	if cfg.PollBurst <= 0 {
		cfg.PollBurst = 1
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	limit := rate.Inf
	if cfg.PollInterval > 0 {
		limit = rate.Every(cfg.PollInterval)
	}

	s := &Server{cfg: cfg, deps: deps, limiter: rate.NewLimiter(limit, cfg.PollBurst)}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/api/poll", s.pollHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/poll/{source}", s.pollHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/status", s.statusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.eventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	s.Server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// a manual poll may take as long as a slow modem login plus reads
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  time.Minute,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.deps.Logger.Info().Str("listen", s.Addr).Msg("HTTP API listening")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) pollHandler(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	if source == "" {
		source = r.URL.Query().Get("source")
	}
	cs := s.deps.Orchestrator.Collectors()
	if source == "" {
		if len(cs) != 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{"source required"})
			return
		}
		source = cs[0].Source()
	}
	if !lo.ContainsBy(cs, func(c collector.Collector) bool { return c.Source() == source }) {
		writeJSON(w, http.StatusNotFound, errorBody{"unknown source: " + source})
		return
	}

	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorBody{"too many poll requests"})
		return
	}

	res, err := s.deps.Orchestrator.Trigger(r.Context(), source)
	switch {
	case err == nil:
	case errors.Is(err, collector.ErrPollInProgress):
		writeJSON(w, http.StatusConflict, errorBody{"poll already in progress"})
		return
	case errors.CodeOf(err) == collector.ErrUnknownSource:
		writeJSON(w, http.StatusNotFound, errorBody{err.Error()})
		return
	default:
		s.deps.Logger.ErrorWithContext(err, "manual poll").Str("source", source).Send()
		writeJSON(w, http.StatusInternalServerError, errorBody{"internal error"})
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

type collectorStatus struct {
	Source              string    `json:"source"`
	LastPoll            time.Time `json:"last_poll"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	PenaltySeconds      float64   `json:"penalty_seconds"`
	Due                 bool      `json:"due"`
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	cs := s.deps.Orchestrator.Collectors()
	out := make([]collectorStatus, 0, len(cs))
	for _, c := range cs {
		out = append(out, collectorStatus{
			Source:              c.Source(),
			LastPoll:            c.LastPoll(),
			ConsecutiveFailures: c.ConsecutiveFailures(),
			PenaltySeconds:      c.Penalty().Seconds(),
			Due:                 c.ShouldPoll(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeJSON(w, http.StatusOK, []events.Event{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	evs, err := s.deps.Events.RecentEvents(r.Context(), limit)
	if err != nil {
		s.deps.Logger.ErrorWithContext(err, "list events").Send()
		writeJSON(w, http.StatusInternalServerError, errorBody{"internal error"})
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}
