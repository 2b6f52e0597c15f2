package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/ledger"
	"github.com/punchamoorthee/campaignledger/internal/logger"
	"github.com/punchamoorthee/campaignledger/internal/service"
)

const (
	requestIDHeader   = "X-Request-Id"
	actorHeader       = "X-Actor-Address"
	idempotencyHeader = "Idempotency-Key"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campaign_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	svc  *service.Service
	log  *logger.Logger
	feed ledger.Submitter
}

type Option func(*Handler)

// WithLedgerFeed exposes the ledger feed route, through which an indexer
// appends confirmed contributions to the event log the reconciler replays.
func WithLedgerFeed(feed ledger.Submitter) Option {
	return func(h *Handler) { h.feed = feed }
}

func NewHandler(svc *service.Service, log *logger.Logger, opts ...Option) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{svc: svc, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router wires every route with request ids, panic recovery and metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID, h.recoverer, h.instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/campaigns", h.CreateCampaignHandler).Methods(http.MethodPost)
	v1.HandleFunc("/campaigns", h.ListCampaignsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/campaigns/stats", h.StatsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/campaigns/revenue", h.RevenueHandler).Methods(http.MethodGet)
	v1.HandleFunc("/campaigns/{address}", h.GetCampaignHandler).Methods(http.MethodGet)
	v1.HandleFunc("/campaigns/{address}/balances", h.BalancesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/campaigns/{address}/contributions", h.ListContributionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/campaigns/{address}/contributions", h.ContributeHandler).Methods(http.MethodPost)
	v1.HandleFunc("/campaigns/{address}/withdraw", h.WithdrawHandler).Methods(http.MethodPost)
	v1.HandleFunc("/campaigns/{address}/creator", h.TransferCreatorHandler).Methods(http.MethodPost)
	v1.HandleFunc("/campaigns/{address}/{event:activate|pause|cancel|finalize}", h.TransitionHandler).Methods(http.MethodPost)
	if h.feed != nil {
		v1.HandleFunc("/ledger/campaigns/{address}/contributions", h.LedgerFeedHandler).Methods(http.MethodPost)
	}
	return r
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		ctx := h.log.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				h.respondWithError(r.Context(), w, apperr.Wrap(apperr.CodeInternal, err, "panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *Handler) respondWithError(ctx context.Context, w http.ResponseWriter, err error) {
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if meta.HTTPStatus < http.StatusInternalServerError && typed.Message() != "" {
		msg = typed.Message()
	}
	if meta.HTTPStatus >= http.StatusInternalServerError {
		h.log.Error(ctx, "request failed", err)
	}

	respondWithJSON(w, meta.HTTPStatus, errorResponse{
		Error:     msg,
		Code:      string(typed.Code()),
		Retryable: meta.Retryable,
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
