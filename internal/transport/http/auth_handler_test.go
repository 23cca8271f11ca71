package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardauth/internal/auth"
	"cardauth/internal/entitlement"
	apierrors "cardauth/internal/errors"
)

type stubVerifier struct {
	record *entitlement.Record
	err    error
	calls  int
}

func (s *stubVerifier) Verify(ctx context.Context, activationCode, userID, machineCode string) (*entitlement.Record, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	rec := *s.record
	rec.CardCode = activationCode
	rec.UserID = userID
	return &rec, nil
}

type stubMachine struct{ code string }

func (s stubMachine) MachineCode(ctx context.Context) string { return s.code }

type mapStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapStore() *mapStore { return &mapStore{data: make(map[string]string)} }

func (m *mapStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func newTestRouter(t *testing.T, verifier *stubVerifier) chi.Router {
	t.Helper()

	key, err := entitlement.DeriveCacheKey("machine-test")
	require.NoError(t, err)
	cache := entitlement.NewCache(newMapStore(), "auth_info", key, slog.Default())

	controller := auth.NewController(verifier, stubMachine{code: "machine-test"}, cache, auth.NopNotifier{}, slog.Default())
	handler := NewAuthHandler(controller)

	r := chi.NewRouter()
	r.Mount("/api/auth", handler.Routes())
	return r
}

func postJSON(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetStatusLoggedOut(t *testing.T) {
	router := newTestRouter(t, &stubVerifier{record: &entitlement.Record{CardID: "c1"}})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "logged_out", body["state"])
	assert.Equal(t, false, body["loggedIn"])
	assert.Equal(t, "machine-test", body["machineCode"])
	assert.NotContains(t, body, "authInfo")
}

func TestLoginSuccess(t *testing.T) {
	verifier := &stubVerifier{record: &entitlement.Record{
		CardID:       "card-1",
		ProductName:  "exe-explain",
		HasTimeLimit: false,
	}}
	router := newTestRouter(t, verifier)

	rec := postJSON(t, router, "/api/auth/login", map[string]string{
		"cardCode": "ABCD-1234",
		"userId":   "user-7",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "logged_in", body["state"])
	assert.Equal(t, true, body["loggedIn"])

	info, ok := body["authInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ABCD-1234", info["cardCode"])
	assert.Equal(t, "user-7", info["userId"])
	assert.Equal(t, 1, verifier.calls)
}

func TestLoginValidation(t *testing.T) {
	verifier := &stubVerifier{record: &entitlement.Record{CardID: "c1"}}
	router := newTestRouter(t, verifier)

	tests := []struct {
		name  string
		body  map[string]string
		field string
	}{
		{name: "missing card code", body: map[string]string{"userId": "u"}, field: "CardCode"},
		{name: "card code too short", body: map[string]string{"cardCode": "ab"}, field: "CardCode"},
		{name: "whitespace only", body: map[string]string{"cardCode": "    "}, field: "CardCode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, "/api/auth/login", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, verifier.calls)

			body := decodeBody(t, rec)
			assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
			details, ok := body["details"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.field, details["field"])
		})
	}
}

func TestLoginMalformedJSON(t *testing.T) {
	verifier := &stubVerifier{record: &entitlement.Record{CardID: "c1"}}
	router := newTestRouter(t, verifier)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "INVALID_REQUEST", body["error_code"])
	assert.Equal(t, 0, verifier.calls)
}

func TestLoginRejected(t *testing.T) {
	verifier := &stubVerifier{err: apierrors.NewRejection(1001, "card not found")}
	router := newTestRouter(t, verifier)

	rec := postJSON(t, router, "/api/auth/login", map[string]string{"cardCode": "ABCD-1234"})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "VERIFICATION_REJECTED", body["error_code"])
	assert.Equal(t, "card not found", body["message"])
}

func TestLoginTransportFailure(t *testing.T) {
	verifier := &stubVerifier{err: apierrors.NewTransportFailure(assert.AnError)}
	router := newTestRouter(t, verifier)

	rec := postJSON(t, router, "/api/auth/login", map[string]string{"cardCode": "ABCD-1234"})

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "NETWORK_ERROR", body["error_code"])
}

func TestLogoutClearsSession(t *testing.T) {
	verifier := &stubVerifier{record: &entitlement.Record{CardID: "c1"}}
	router := newTestRouter(t, verifier)

	rec := postJSON(t, router, "/api/auth/login", map[string]string{"cardCode": "ABCD-1234"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, router, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "logged_out", body["state"])
	assert.Equal(t, false, body["loggedIn"])
}

func TestGetMachineCode(t *testing.T) {
	router := newTestRouter(t, &stubVerifier{record: &entitlement.Record{CardID: "c1"}})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/machine-code", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "machine-test", body["machineCode"])
}

func TestMaskCardCode(t *testing.T) {
	assert.Equal(t, "****", maskCardCode("abc"))
	assert.Equal(t, "AB*****34", maskCardCode("ABCD-1234"))
}
