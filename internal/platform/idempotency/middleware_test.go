package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finitefield/pos-api/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

func staffRequest(method, path, body, key, staffID string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if staffID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: staffID, Roles: []string{auth.RoleCashier}}))
	}
	return req
}

func TestMiddleware_WithoutKeyPassesThrough(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/orders", `{}`, "", "stf-1"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
}

func TestMiddleware_RequiredKey(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithRequiredKey())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a key")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/orders", `{}`, "", "stf-1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysCheckout(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
	}))

	body := `{"payment_method":"CASH","paid_amount":100000}`
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, staffRequest(http.MethodPost, "/api/v1/orders/ord_1:checkout", body, "chk-1", "stf-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, staffRequest(http.MethodPost, "/api/v1/orders/ord_1:checkout", body, "chk-1", "stf-1"))

	if calls != 1 {
		t.Fatalf("expected a single checkout, got %d", calls)
	}
	if rr2.Code != http.StatusOK || rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replayed 200, got %d headers=%v", rr2.Code, rr2.Header())
	}
	if rr2.Header().Get("Content-Type") != "application/json" || rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("replay differs: %q vs %q", rr2.Body.String(), rr1.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerStaff(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), staffRequest(http.MethodPost, "/api/v1/orders", `{}`, "k-1", "stf-1"))
	handler.ServeHTTP(httptest.NewRecorder(), staffRequest(http.MethodPost, "/api/v1/orders", `{}`, "k-1", "stf-2"))
	if calls != 2 {
		t.Fatalf("expected separate staff to run independently, got %d calls", calls)
	}
}

func TestMiddleware_ConflictingBody(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, staffRequest(http.MethodPost, "/api/v1/orders/ord_1/items", `{"quantity":1}`, "same", "stf-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, staffRequest(http.MethodPost, "/api/v1/orders/ord_1/items", `{"quantity":2}`, "same", "stf-1"))

	if rr2.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservation(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run while the key is pending")
	}))

	req := staffRequest(http.MethodPost, "/api/v1/orders", `{}`, "pending", "stf-1")
	fingerprint := requestFingerprint(req, []byte(`{}`), "stf-1")
	if _, err := store.Reserve(context.Background(), "stf-1|pending", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_FailedAttemptReleasesKey(t *testing.T) {
	attempts := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/orders/ord_1:checkout", `{}`, "retry", "stf-1"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected first attempt 503, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/orders/ord_1:checkout", `{}`, "retry", "stf-1"))
	if rr.Code != http.StatusOK || attempts != 2 {
		t.Fatalf("expected retry to run, got %d after %d attempts", rr.Code, attempts)
	}
}

func TestMiddleware_SaveFailureStillReturnsResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }
	handler := Middleware(store, WithClock(fixedClock), WithLogger(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/orders", `{}`, "k", "stf-1"))
	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected key to be released")
	}
	if len(events) != 1 || events[0] != "idempotency.save.failed" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestMiddleware_ReadsAreNotGuarded(t *testing.T) {
	store := &stubStore{reserveErr: errors.New("unreachable")}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, staffRequest(http.MethodGet, "/api/v1/orders/ord_1", "", "k", "stf-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected GET to bypass the store, got %d", rr.Code)
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Reserve(ctx, "b", "fp", fixedTime, time.Hour); err != nil {
		t.Fatal(err)
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired key removed, got %d err=%v", removed, err)
	}
	res, err := store.Reserve(ctx, "b", "other", fixedTime.Add(10*time.Minute), time.Hour)
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected live key to survive cleanup, got %+v err=%v", res, err)
	}
}

type stubStore struct {
	reserveErr error
	failSave   bool
	released   bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
