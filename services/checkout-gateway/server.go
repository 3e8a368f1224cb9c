package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"storepay/checkout"
)

const maxRequestBody = 1 << 20

// Server exposes the checkout HTTP surface: shop metadata on GET and
// purchase-transaction construction on POST.
type Server struct {
	svc     *checkout.Service
	label   string
	icon    string
	log     *slog.Logger
	handler http.Handler
}

// TransactionRequest is the JSON body accepted by POST /checkout. The cart
// and the reference travel in the query string; only the buyer identity is
// in the body.
type TransactionRequest struct {
	Account string `json:"account"`
}

// TransactionResponse is returned on a successful build. The transaction is
// base64, partially signed, and still requires the buyer's signature before
// submission.
type TransactionResponse struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message"`
}

// MetadataResponse is the static display payload for wallets.
type MetadataResponse struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer wires the HTTP routes around the checkout service.
func NewServer(svc *checkout.Service, label, icon string, limitRPM float64, limitBurst int, logger *slog.Logger) *Server {
	if svc == nil {
		panic("checkout service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:   svc,
		label: label,
		icon:  icon,
		log:   logger,
	}

	r := chi.NewRouter()
	r.Use(newVisitorLimiter(limitRPM, limitBurst).middleware)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/checkout", func(cr chi.Router) {
		cr.Get("/", s.handleMetadata)
		cr.Post("/", s.handleTransaction)
	})
	s.handler = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, MetadataResponse{Label: s.label, Icon: s.icon})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req TransactionRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
			return
		}
	}

	query := r.URL.Query()
	cart, err := parseCart(query)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.svc.BuildPurchase(r.Context(), checkout.Request{
		Buyer:     strings.TrimSpace(req.Account),
		Reference: strings.TrimSpace(query.Get("reference")),
		Cart:      cart,
	})
	if err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TransactionResponse{
		Transaction: result.Transaction,
		Message:     result.Message,
	})
}

// parseCart reads item quantities from the query string. Every parameter
// except the reference names a catalog item.
func parseCart(query map[string][]string) (map[string]int64, error) {
	cart := make(map[string]int64)
	for key, values := range query {
		if key == "reference" {
			continue
		}
		if len(values) == 0 {
			continue
		}
		qty, err := strconv.ParseInt(values[len(values)-1], 10, 64)
		if err != nil {
			return nil, errors.New("invalid quantity for item " + strconv.Quote(key))
		}
		cart[key] = qty
	}
	return cart, nil
}

func (s *Server) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrInvalidRequest):
		// Caller mistakes get the specific reason.
		msg := strings.TrimSpace(strings.TrimPrefix(err.Error(), checkout.ErrInvalidRequest.Error()+":"))
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
	case errors.Is(err, checkout.ErrServerMisconfigured):
		s.log.Error("checkout misconfigured", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error creating transaction"})
	case errors.Is(err, checkout.ErrInvalidAsset), errors.Is(err, checkout.ErrLedgerUnavailable):
		s.log.Error("checkout ledger failure", "error", err)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "error creating transaction"})
	default:
		s.log.Error("checkout failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "error creating transaction"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("write response", "error", err)
	}
}

// visitorLimiter applies a per-client token bucket keyed by remote IP.
type visitorLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newVisitorLimiter(rpm float64, burst int) *visitorLimiter {
	perSecond := rate.Limit(rpm / 60.0)
	if perSecond <= 0 {
		perSecond = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &visitorLimiter{
		perSecond: perSecond,
		burst:     burst,
		visitors:  make(map[string]*rate.Limiter),
	}
}

func (v *visitorLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.obtain(clientID(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *visitorLimiter) obtain(id string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	limiter, ok := v.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(v.perSecond, v.burst)
		v.visitors[id] = limiter
	}
	return limiter
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
