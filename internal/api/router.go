// Package api provides the operator HTTP API: health, gate state, recent
// signals, the live feed and TOTP-protected admin actions.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal-enginev1/internal/gate"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	defaultSignalLimit = 20
	maxSignalLimit     = 200
)

// GateControl is the gate surface the API needs.
type GateControl interface {
	Snapshot() gate.State
	Reset()
}

// SignalHistory lists dispatched signals, newest first.
type SignalHistory interface {
	RecentSignals(ctx context.Context, limit int) ([]model.SignalRecord, error)
}

// SubscriptionStore changes who receives which pair.
type SubscriptionStore interface {
	Subscribe(ctx context.Context, recipient, pair string) error
	Unsubscribe(ctx context.Context, recipient, pair string) error
}

// Deps are the router's collaborators. Health and Stream may be nil.
type Deps struct {
	Gate          GateControl
	Signals       SignalHistory
	Subscriptions SubscriptionStore
	Health        *metrics.HealthStatus

	// Stream serves the live signal feed at /api/v1/stream.
	Stream http.Handler

	// TOTPSecret guards admin endpoints. Empty disables them (403).
	TOTPSecret string
	Now        func() time.Time
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *http.ServeMux {
	if d.Now == nil {
		d.Now = time.Now
	}
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if d.Health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		rep := d.Health.Report()
		code := http.StatusOK
		if rep.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	})

	mux.HandleFunc("/api/v1/gate", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, d.Gate.Snapshot())
	})

	mux.HandleFunc("/api/v1/gate/reset", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) || !d.authorize(w, r) {
			return
		}
		d.Gate.Reset()
		log.Printf("[api] gate reset from %s", r.RemoteAddr)
		writeJSON(w, http.StatusOK, d.Gate.Snapshot())
	})

	mux.HandleFunc("/api/v1/signals", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		limit := defaultSignalLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxSignalLimit)
		}

		recs, err := d.Signals.RecentSignals(r.Context(), limit)
		if err != nil {
			log.Printf("[api] recent signals: %v", err)
			writeError(w, http.StatusInternalServerError, "signal log unavailable")
			return
		}
		out := make([]signalView, len(recs))
		for i, rec := range recs {
			out[i] = newSignalView(rec)
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("/api/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) || !d.authorize(w, r) {
			return
		}
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.Recipient = strings.TrimSpace(req.Recipient)
		req.Pair = strings.ToUpper(strings.TrimSpace(req.Pair))
		if req.Recipient == "" || req.Pair == "" {
			writeError(w, http.StatusBadRequest, "recipient and pair are required")
			return
		}

		var err error
		switch strings.ToLower(req.Action) {
		case "", "subscribe":
			err = d.Subscriptions.Subscribe(r.Context(), req.Recipient, req.Pair)
		case "unsubscribe":
			err = d.Subscriptions.Unsubscribe(r.Context(), req.Recipient, req.Pair)
		default:
			writeError(w, http.StatusBadRequest, "action must be subscribe or unsubscribe")
			return
		}
		if err != nil {
			log.Printf("[api] subscription %s %s/%s: %v", req.Action, req.Recipient, req.Pair, err)
			writeError(w, http.StatusInternalServerError, "subscription store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if d.Stream != nil {
		mux.Handle("/api/v1/stream", d.Stream)
	}

	return mux
}

type subscriptionRequest struct {
	Recipient string `json:"recipient"`
	Pair      string `json:"pair"`
	Action    string `json:"action"`
}

type signalView struct {
	Pair       string          `json:"pair"`
	Side       model.Side      `json:"side"`
	EntryPrice float64         `json:"entry_price"`
	Confidence int             `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
	Signal     json.RawMessage `json:"signal,omitempty"`
}

func newSignalView(rec model.SignalRecord) signalView {
	v := signalView{
		Pair:       rec.Pair,
		Side:       rec.Side,
		EntryPrice: rec.EntryPrice,
		Confidence: rec.Confidence,
		CreatedAt:  rec.CreatedAt.UTC(),
	}
	if json.Valid(rec.Payload) {
		v.Signal = rec.Payload
	}
	return v
}

// authorize checks the X-TOTP header against the admin secret.
func (d Deps) authorize(w http.ResponseWriter, r *http.Request) bool {
	if d.TOTPSecret == "" {
		writeError(w, http.StatusForbidden, "admin endpoints disabled")
		return false
	}
	code := strings.TrimSpace(r.Header.Get("X-TOTP"))
	ok, err := totp.ValidateCustom(code, d.TOTPSecret, d.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid or missing X-TOTP code")
		return false
	}
	return true
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
