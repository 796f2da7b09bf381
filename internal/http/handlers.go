package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/assign"
	"github.com/superjustkidding/fango/internal/config"
	"github.com/superjustkidding/fango/internal/ingest"
	"github.com/superjustkidding/fango/internal/location"
	"github.com/superjustkidding/fango/internal/logging"
	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/nearby"
	"github.com/superjustkidding/fango/internal/notify"
	"github.com/superjustkidding/fango/internal/orderflow"
	"github.com/superjustkidding/fango/internal/score"
	"github.com/superjustkidding/fango/internal/storage"
)

type Server struct {
	Locations *location.Store
	Finder    *nearby.Finder
	Engine    *assign.Engine
	Hub       *notify.Hub
	Kafka     *ingest.KafkaProducer

	mux    *mux.Router
	logger *slog.Logger
}

// Deps bundles everything a Server needs. Kafka may be nil; location records
// are then only written through the store.
type Deps struct {
	Locations *location.Store
	Finder    *nearby.Finder
	Engine    *assign.Engine
	Hub       *notify.Hub
	Kafka     *ingest.KafkaProducer
	Logger    *slog.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		Locations: d.Locations,
		Finder:    d.Finder,
		Engine:    d.Engine,
		Hub:       d.Hub,
		Kafka:     d.Kafka,
		mux:       mux.NewRouter(),
		logger:    d.Logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig wires real backends when configured and falls back to
// in-memory implementations otherwise, so the binary runs locally with no
// infrastructure at all.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var store interface {
		storage.LocationLog
		storage.OrderStore
		storage.AssignmentStore
		storage.RiderDirectory
		storage.RestaurantLocator
	}
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var cache location.Cache
	var bus notify.PubSub
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		cache = location.NewRedisCache(client, cfg.RedisLocationPrefix, cfg.LocationWindow)
		bus = notify.NewRedisBus(client, logger)
	} else {
		cache = location.NewMemoryCache(cfg.LocationWindow)
		bus = notify.NewBus(64)
	}

	locStore := location.NewStore(cache, store, bus, logging.WithComponent(logger, "location"))
	finder := &nearby.Finder{Directory: store, Locations: locStore, Freshness: cfg.LocationFreshness}
	scorer := score.NewScorer(store, cfg.DistanceWeight, cfg.LoadWeight)
	flow := orderflow.NewMachine(store, bus)

	engine := assign.NewEngine(assign.Params{
		Orders:         store,
		Assignments:    store,
		Riders:         store,
		Restaurants:    assign.NewCachedLocator(store, cfg.RestaurantCacheTTL),
		Finder:         finder,
		Scorer:         scorer,
		Flow:           flow,
		Notifier:       bus,
		Logger:         logging.WithComponent(logger, "assign"),
		SearchRadiusM:  cfg.SearchRadiusM,
		CandidateLimit: cfg.NearbyLimit,
	})

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	return NewServer(Deps{
		Locations: locStore,
		Finder:    finder,
		Engine:    engine,
		Hub:       notify.NewHub(bus, logging.WithComponent(logger, "notify")),
		Kafka:     kp,
		Logger:    logger,
	}), nil
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/riders/{rider_id}/locations", s.handleRecordLocation).Methods("POST")
	api.HandleFunc("/riders/{rider_id}/locations/latest", s.handleLatestLocation).Methods("GET")
	api.HandleFunc("/riders/{rider_id}/locations/recent", s.handleRecentLocations).Methods("GET")
	api.HandleFunc("/riders/{rider_id}/locations", s.handleLocationHistory).Methods("GET")
	api.HandleFunc("/riders/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/orders/{order_id}/assignments", s.handleCreateAssignment).Methods("POST")
	api.HandleFunc("/assignments/{id}/response", s.handleRespond).Methods("PUT")
	api.HandleFunc("/assignments/{id}", s.handleCancelAssignment).Methods("DELETE")

	s.mux.HandleFunc("/ws/orders/{order_id}", s.handleOrderWS).Methods("GET")
	s.mux.HandleFunc("/ws/riders/{rider_id}", s.handleRiderWS).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRecordLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.RiderLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, invalidBody(err))
		return
	}
	loc.RiderID = mux.Vars(r)["rider_id"]

	rec, err := s.Locations.Record(r.Context(), loc)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(rec); err != nil {
			s.logger.Warn("kafka publish failed", "rider_id", rec.RiderID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleLatestLocation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Locations.Latest(r.Context(), mux.Vars(r)["rider_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecentLocations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, invalidParam("limit", err))
			return
		}
		limit = n
	}
	recs, err := s.Locations.Recent(r.Context(), mux.Vars(r)["rider_id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": recs})
}

func (s *Server) handleLocationHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, invalidParam("limit", err))
			return
		}
		limit = n
	}
	since, err := parseTimeParam(q.Get("since"), "since")
	if err != nil {
		writeError(w, err)
		return
	}
	until, err := parseTimeParam(q.Get("until"), "until")
	if err != nil {
		writeError(w, err)
		return
	}

	recs, err := s.Locations.History(r.Context(), mux.Vars(r)["rider_id"], limit, since, until)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": recs})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, invalidParam("lat", err))
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, invalidParam("lon", err))
		return
	}
	radius, err := strconv.ParseFloat(q.Get("radius"), 64)
	if err != nil {
		writeError(w, invalidParam("radius", err))
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, invalidParam("limit", err))
			return
		}
		limit = n
	}

	cands, err := s.Finder.Find(r.Context(), lat, lon, radius, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"riders": cands})
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	var body struct {
		RiderID string `json:"rider_id"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, invalidBody(err))
			return
		}
	}

	var (
		a   models.RiderAssignment
		err error
	)
	if body.RiderID == "" {
		a, err = s.Engine.AssignAuto(r.Context(), orderID)
	} else {
		a, err = s.Engine.AssignManual(r.Context(), orderID, body.RiderID, actorFromRequest(r))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, invalidBody(err))
		return
	}
	actor := actorFromRequest(r)
	if actor.Type != models.ActorRider || actor.ID == "" {
		writeError(w, fmt.Errorf("only the targeted rider may respond: %w", apperr.ErrForbidden))
		return
	}

	a, err := s.Engine.Respond(r.Context(), mux.Vars(r)["id"], actor.ID, body.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCancelAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := s.Engine.Cancel(r.Context(), mux.Vars(r)["id"], actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

var upgrader = websocket.Upgrader{
	// Origin filtering happens at the gateway.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleOrderWS(w http.ResponseWriter, r *http.Request) {
	s.streamWS(w, r, notify.OrderTopic(mux.Vars(r)["order_id"]))
}

func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	s.streamWS(w, r, notify.RiderTopic(mux.Vars(r)["rider_id"]))
}

func (s *Server) streamWS(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Warn("ws upgrade failed", "topic", topic, "error", err)
		return
	}
	s.Hub.Stream(topic, conn)
}

// actorFromRequest trusts identity headers set by the auth gateway; token
// resolution is out of scope here.
func actorFromRequest(r *http.Request) models.Actor {
	return models.Actor{
		ID:   r.Header.Get("X-Actor-ID"),
		Type: r.Header.Get("X-Actor-Type"),
	}
}

func parseTimeParam(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, invalidParam(name, err)
	}
	return &t, nil
}

func invalidBody(err error) error {
	return fmt.Errorf("invalid request body: %v: %w", err, apperr.ErrValidation)
}

func invalidParam(name string, err error) error {
	return fmt.Errorf("invalid %s: %v: %w", name, err, apperr.ErrValidation)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"kind":  apperr.Kind(err),
	})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
