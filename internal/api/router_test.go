package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-enginev1/internal/gate"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"

	"github.com/pquerna/otp/totp"
)

const testSecret = "JBSWY3DPEHPK3PXP"

var now = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

type fakeGate struct {
	state  gate.State
	resets int
}

func (g *fakeGate) Snapshot() gate.State { return g.state }
func (g *fakeGate) Reset()               { g.resets++; g.state.DailyCount = 0 }

type fakeHistory struct {
	recs  []model.SignalRecord
	limit int
	err   error
}

func (h *fakeHistory) RecentSignals(_ context.Context, limit int) ([]model.SignalRecord, error) {
	h.limit = limit
	return h.recs, h.err
}

type fakeSubs struct{ ops []string }

func (s *fakeSubs) Subscribe(_ context.Context, r, p string) error {
	s.ops = append(s.ops, "+"+r+"/"+p)
	return nil
}

func (s *fakeSubs) Unsubscribe(_ context.Context, r, p string) error {
	s.ops = append(s.ops, "-"+r+"/"+p)
	return nil
}

func newTestRouter(secret string) (*http.ServeMux, *fakeGate, *fakeHistory, *fakeSubs) {
	g := &fakeGate{state: gate.State{Date: "2024-07-01", DailyCount: 4}}
	h := &fakeHistory{}
	s := &fakeSubs{}
	mux := NewRouter(Deps{
		Gate:          g,
		Signals:       h,
		Subscriptions: s,
		TOTPSecret:    secret,
		Now:           func() time.Time { return now },
	})
	return mux, g, h, s
}

func do(mux http.Handler, method, target, body, code string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if code != "" {
		req.Header.Set("X-TOTP", code)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func validCode(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCode(testSecret, now)
	if err != nil {
		t.Fatal(err)
	}
	return code
}

func TestHealth(t *testing.T) {
	mux, _, _, _ := newTestRouter("")
	rec := do(mux, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}

	hs := metrics.NewHealthStatus(false, false)
	mux = NewRouter(Deps{Health: hs})
	rec = do(mux, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with sqlite down = %d", rec.Code)
	}
}

func TestGateState(t *testing.T) {
	mux, _, _, _ := newTestRouter("")
	rec := do(mux, http.MethodGet, "/api/v1/gate", "", "")
	var st gate.State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.DailyCount != 4 || st.Date != "2024-07-01" {
		t.Fatalf("state = %+v", st)
	}

	if rec := do(mux, http.MethodPost, "/api/v1/gate", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /gate = %d", rec.Code)
	}
}

func TestGateReset(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		code   string
		want   int
		resets int
	}{
		{"disabled without secret", "", "123456", http.StatusForbidden, 0},
		{"missing code", testSecret, "", http.StatusUnauthorized, 0},
		{"wrong code", testSecret, "000000", http.StatusUnauthorized, 0},
		{"valid code", testSecret, "valid", http.StatusOK, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, g, _, _ := newTestRouter(tc.secret)
			code := tc.code
			if code == "valid" {
				code = validCode(t)
			}
			rec := do(mux, http.MethodPost, "/api/v1/gate/reset", "", code)
			if rec.Code != tc.want || g.resets != tc.resets {
				t.Fatalf("code=%d resets=%d body=%s", rec.Code, g.resets, rec.Body.String())
			}
		})
	}
}

func TestRecentSignals(t *testing.T) {
	mux, _, h, _ := newTestRouter("")
	sig := &model.Signal{Pair: "ETHUSDT", Side: model.SideShort, EntryMin: 98.5, EntryMax: 100.5, Confidence: 80}
	h.recs = []model.SignalRecord{model.NewSignalRecord(sig, now)}

	rec := do(mux, http.MethodGet, "/api/v1/signals?limit=500", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if h.limit != maxSignalLimit {
		t.Fatalf("limit = %d", h.limit)
	}
	var out []signalView
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].EntryPrice != 99.5 || out[0].Side != model.SideShort {
		t.Fatalf("out = %+v", out)
	}
	var embedded model.Signal
	if err := json.Unmarshal(out[0].Signal, &embedded); err != nil || embedded.EntryMax != 100.5 {
		t.Fatalf("embedded signal = %+v err=%v", embedded, err)
	}

	do(mux, http.MethodGet, "/api/v1/signals", "", "")
	if h.limit != defaultSignalLimit {
		t.Fatalf("default limit = %d", h.limit)
	}
	if rec := do(mux, http.MethodGet, "/api/v1/signals?limit=x", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}

	h.err = errors.New("disk I/O error")
	if rec := do(mux, http.MethodGet, "/api/v1/signals", "", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("store error = %d", rec.Code)
	}
}

func TestSubscriptions(t *testing.T) {
	mux, _, _, s := newTestRouter(testSecret)
	code := validCode(t)

	cases := []struct {
		body string
		want int
	}{
		{`{"recipient":"42","pair":"ethusdt"}`, http.StatusOK},
		{`{"recipient":"42","pair":"ETHUSDT","action":"unsubscribe"}`, http.StatusOK},
		{`{"recipient":"","pair":"ETHUSDT"}`, http.StatusBadRequest},
		{`{"recipient":"42","pair":"ETHUSDT","action":"pause"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := do(mux, http.MethodPost, "/api/v1/subscriptions", tc.body, code); rec.Code != tc.want {
			t.Errorf("%s: code = %d, want %d", tc.body, rec.Code, tc.want)
		}
	}
	if strings.Join(s.ops, ",") != "+42/ETHUSDT,-42/ETHUSDT" {
		t.Fatalf("ops = %v", s.ops)
	}

	if rec := do(mux, http.MethodPost, "/api/v1/subscriptions", `{"recipient":"1","pair":"X"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}
}

func TestStreamMounted(t *testing.T) {
	var hits int
	mux := NewRouter(Deps{Stream: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTeapot)
	})})
	if rec := do(mux, http.MethodGet, "/api/v1/stream?since=3", "", ""); rec.Code != http.StatusTeapot || hits != 1 {
		t.Fatalf("stream code=%d hits=%d", rec.Code, hits)
	}

	mux, _, _, _ = newTestRouter("")
	if rec := do(mux, http.MethodGet, "/api/v1/stream", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unmounted stream = %d", rec.Code)
	}
}
