package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(secret []byte) (*Server, *memStore) {
	store := newMemStore()
	store.addRepo()
	router := NewRouter(store, nil, nil, nil, zerolog.Nop())
	return NewServer(ServerConfig{Router: router, Secret: secret, Log: zerolog.Nop()}), store
}

func deliver(t *testing.T, handler http.Handler, body, signature, event string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServerRejectsBadSignature(t *testing.T) {
	secret := []byte("s3cret")
	srv, store := newTestServer(secret)
	body := `{"action":"deleted","issue":{"number":5,"title":"t","state":"open"},` + repoSection + `}`

	rec := deliver(t, srv.Handler(), body, Sign([]byte(body+"tamper"), secret), "issues")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = deliver(t, srv.Handler(), body, "", "issues")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, store.issues[42])
}

func TestServerAcceptsValidDelivery(t *testing.T) {
	secret := []byte("s3cret")
	srv, store := newTestServer(secret)
	store.addIssue(5, "crash")
	body := `{"action":"deleted","issue":{"number":5,"title":"crash","state":"open"},` + repoSection + `}`

	rec := deliver(t, srv.Handler(), body, Sign([]byte(body), secret), "issues")
	require.Equal(t, http.StatusOK, rec.Code)

	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 5, res.IssueNumber)
	assert.True(t, store.issues[42][5].IsDeleted)
}

func TestServerRequiresEventHeader(t *testing.T) {
	secret := []byte("s3cret")
	srv, _ := newTestServer(secret)
	body := `{"action":"opened"}`

	rec := deliver(t, srv.Handler(), body, Sign([]byte(body), secret), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerHealth(t *testing.T) {
	srv, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
}

func TestServerHandlerFailureIs500(t *testing.T) {
	srv, _ := newTestServer(nil)

	// Malformed JSON for a handled category is a handler failure.
	rec := deliver(t, srv.Handler(), `{"action":`, "", "issues")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
