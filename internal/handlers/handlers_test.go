package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danqzq/specmarket/internal/auth"
	"github.com/danqzq/specmarket/internal/cache"
	"github.com/danqzq/specmarket/internal/config"
	"github.com/danqzq/specmarket/internal/docstore"
	"github.com/danqzq/specmarket/internal/handlers"
	"github.com/danqzq/specmarket/internal/repository"
	"github.com/danqzq/specmarket/internal/router"
)

const adminToken = "test-admin-token"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	store := docstore.NewMemoryStore()
	repo := repository.New(context.Background(), "testdata/absent.json", store, logger)
	authSvc := auth.NewService(store.Users, []byte("test-signing-key"))
	cfg := &config.Config{
		AdminToken: adminToken,
		CacheTTL:   time.Minute,
	}
	h := handlers.NewHandler(repo, store, authSvc, cache.NewMemory(), cfg, logger)
	srv := httptest.NewServer(router.New(h, authSvc, logger, nil, ""))
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	StatusCode int            `json:"status_code"`
	StatusMsg  string         `json:"status_msg"`
	Data       map[string]any `json:"data"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func uploadRequest(t *testing.T, url string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, url+"/specmarket/v1/uploadSpec", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func adminUpload(t *testing.T, srv *httptest.Server, fields map[string]string) envelope {
	t.Helper()
	req := uploadRequest(t, srv.URL, fields)
	req.Header.Set("X-Admin-Token", adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return decodeEnvelope(t, resp)
}

func TestUploadAndList(t *testing.T) {
	srv := newTestServer(t)

	env := adminUpload(t, srv, map[string]string{
		"title":    "Payments API",
		"summary":  "How payments flow",
		"category": "api",
		"tags":     "rest, payments",
		"author":   "alice",
		"content":  "## Overview\nPayments.",
	})
	assert.Equal(t, 0, env.StatusCode)
	shortID, _ := env.Data["shortId"].(string)
	require.Len(t, shortID, 16)
	assert.Equal(t, float64(1), env.Data["version"])

	resp, err := http.Get(srv.URL + "/specmarket/v1/listSpecs")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 0, env.StatusCode)
	assert.Equal(t, float64(1), env.Data["total"])
	items := env.Data["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "Payments API", item["title"])
	_, hasContent := item["contentMd"]
	assert.False(t, hasContent, "listing items carry no content body")
}

func TestUploadRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	req := uploadRequest(t, srv.URL, map[string]string{
		"title":   "Nope",
		"author":  "mallory",
		"content": "## Overview\nNope.",
	})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, 1003, env.StatusCode)
	assert.NotEmpty(t, env.Data["traceId"])
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t)

	env := adminUpload(t, srv, map[string]string{
		"title":  "Empty",
		"author": "alice",
	})
	assert.Equal(t, 1001, env.StatusCode)
}

func TestSpecDetailConditionalRequests(t *testing.T) {
	srv := newTestServer(t)

	env := adminUpload(t, srv, map[string]string{
		"title":   "Caching",
		"author":  "alice",
		"content": "## Overview\nCache me.",
	})
	shortID := env.Data["shortId"].(string)

	resp, err := http.Get(srv.URL + "/specmarket/v1/getSpecDetail?shortId=" + shortID)
	require.NoError(t, err)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)
	require.NotEmpty(t, resp.Header.Get("Last-Modified"))
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 0, env.StatusCode)
	assert.Contains(t, env.Data["contentHtml"], "<h2")
	toc := env.Data["toc"].([]any)
	require.Len(t, toc, 1)
	assert.Equal(t, "Overview", toc[0].(map[string]any)["text"])

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/specmarket/v1/getSpecDetail?shortId="+shortID, nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}

func TestSpecRawAndDownload(t *testing.T) {
	srv := newTestServer(t)

	env := adminUpload(t, srv, map[string]string{
		"title":   "Raw",
		"author":  "alice",
		"content": "## Overview\nRaw body.",
	})
	shortID := env.Data["shortId"].(string)

	resp, err := http.Get(srv.URL + "/specmarket/v1/getSpecRaw?shortId=" + shortID)
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, "## Overview\nRaw body.", body)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	resp, err = http.Get(srv.URL + "/specmarket/v1/downloadSpec?shortId=" + shortID)
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, "attachment; filename="+shortID+".md", resp.Header.Get("Content-Disposition"))
}

func TestVersioningFlow(t *testing.T) {
	srv := newTestServer(t)

	env := adminUpload(t, srv, map[string]string{
		"title":   "Evolving",
		"author":  "alice",
		"content": "## Overview\nFirst.",
	})
	shortID := env.Data["shortId"].(string)

	env = adminUpload(t, srv, map[string]string{
		"shortId": shortID,
		"title":   "Evolving",
		"author":  "alice",
		"content": "## Overview\nSecond.",
	})
	assert.Equal(t, 0, env.StatusCode)
	assert.Equal(t, float64(2), env.Data["version"])

	resp, err := http.Get(srv.URL + "/specmarket/v1/getSpecHistory?shortId=" + shortID)
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	items := env.Data["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, float64(2), items[0].(map[string]any)["version"])
	assert.Equal(t, float64(1), items[1].(map[string]any)["version"])

	resp, err = http.Get(srv.URL + "/specmarket/v1/getSpecVersion?shortId=" + shortID + "&version=1")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 0, env.StatusCode)
	assert.Equal(t, "## Overview\nFirst.", env.Data["contentMd"])

	resp, err = http.Get(srv.URL + "/specmarket/v1/getSpecVersion?shortId=" + shortID + "&version=9")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 1004, env.StatusCode)
}

func TestUpdateSpec(t *testing.T) {
	srv := newTestServer(t)

	env := adminUpload(t, srv, map[string]string{
		"title":   "Before",
		"author":  "alice",
		"content": "## Overview\nBefore.",
	})
	shortID := env.Data["shortId"].(string)

	payload := `{"shortId":"` + shortID + `","title":"After","contentMd":"## Overview\nAfter."}`
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/specmarket/v1/updateSpec", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 0, env.StatusCode)
	assert.Equal(t, float64(2), env.Data["version"])

	resp, err = http.Get(srv.URL + "/specmarket/v1/getSpecDetail?shortId=" + shortID)
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, "After", env.Data["title"])
}

func TestDeleteSpec(t *testing.T) {
	srv := newTestServer(t)

	env := adminUpload(t, srv, map[string]string{
		"title":   "Doomed",
		"author":  "alice",
		"content": "## Overview\nGone soon.",
	})
	shortID := env.Data["shortId"].(string)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/specmarket/v1/deleteSpec?shortId="+shortID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/specmarket/v1/deleteSpec?shortId="+shortID, nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", adminToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 0, env.StatusCode)

	resp, err = http.Get(srv.URL + "/specmarket/v1/getSpecDetail?shortId=" + shortID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 1004, env.StatusCode)
}

func TestFacetEndpoints(t *testing.T) {
	srv := newTestServer(t)

	adminUpload(t, srv, map[string]string{
		"title":    "One",
		"category": "api",
		"tags":     "rest",
		"author":   "alice",
		"content":  "## Overview\nOne.",
	})
	adminUpload(t, srv, map[string]string{
		"title":    "Two",
		"category": "infra",
		"tags":     "rest, ops",
		"author":   "bob",
		"content":  "## Overview\nTwo.",
	})

	resp, err := http.Get(srv.URL + "/specmarket/v1/listTags")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)
	tags := env.Data["items"].([]any)
	byName := map[string]float64{}
	for _, raw := range tags {
		f := raw.(map[string]any)
		byName[f["name"].(string)] = f["count"].(float64)
	}
	assert.Equal(t, float64(2), byName["Rest"])
	assert.Equal(t, float64(1), byName["Ops"])

	resp, err = http.Get(srv.URL + "/specmarket/v1/getCategorySpecs?slug=infra")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, float64(1), env.Data["total"])

	resp, err = http.Get(srv.URL + "/specmarket/v1/getTagSpecs?slug=rest")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, float64(2), env.Data["total"])
}

func TestListSpecsRejectsBadUpdatedSince(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/specmarket/v1/listSpecs?updatedSince=yesterday")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, 1001, env.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)

	jar := newCookieClient(t)

	resp, err := jar.Post(srv.URL+"/specmarket/v1/auth/register", "application/json",
		strings.NewReader(`{"username":"alice","password":"s3cret"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	user := env.Data["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	_, leaked := user["passwordHash"]
	assert.False(t, leaked, "password hash never leaves the server")

	resp, err = jar.Post(srv.URL+"/specmarket/v1/auth/register", "application/json",
		strings.NewReader(`{"username":"alice","password":"other"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = jar.Get(srv.URL + "/specmarket/v1/auth/me")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 0, env.StatusCode)

	resp, err = jar.Post(srv.URL+"/specmarket/v1/auth/logout", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = jar.Get(srv.URL + "/specmarket/v1/auth/me")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 1003, env.StatusCode)

	resp, err = jar.Post(srv.URL+"/specmarket/v1/auth/login", "application/json",
		strings.NewReader(`{"username":"alice","password":"wrong"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp, err = jar.Post(srv.URL+"/specmarket/v1/auth/login", "application/json",
		strings.NewReader(`{"username":"alice","password":"s3cret"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthenticatedUserOwnsUploads(t *testing.T) {
	srv := newTestServer(t)

	alice := newCookieClient(t)
	resp, err := alice.Post(srv.URL+"/specmarket/v1/auth/register", "application/json",
		strings.NewReader(`{"username":"alice","password":"s3cret"}`))
	require.NoError(t, err)
	resp.Body.Close()

	req := uploadRequest(t, srv.URL, map[string]string{
		"title":   "Owned",
		"content": "## Overview\nMine.",
	})
	resp, err = alice.Do(req)
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)
	require.Equal(t, 0, env.StatusCode)
	shortID := env.Data["shortId"].(string)

	// Author defaults to the session user.
	resp, err = http.Get(srv.URL + "/specmarket/v1/getSpecDetail?shortId=" + shortID)
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, "@alice", env.Data["author"])

	// Another account cannot overwrite it.
	bob := newCookieClient(t)
	resp, err = bob.Post(srv.URL+"/specmarket/v1/auth/register", "application/json",
		strings.NewReader(`{"username":"bob","password":"hunter2"}`))
	require.NoError(t, err)
	resp.Body.Close()

	req = uploadRequest(t, srv.URL, map[string]string{
		"shortId": shortID,
		"title":   "Stolen",
		"content": "## Overview\nNot yours.",
	})
	resp, err = bob.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// The owner can.
	req = uploadRequest(t, srv.URL, map[string]string{
		"shortId": shortID,
		"title":   "Owned",
		"content": "## Overview\nStill mine.",
	})
	resp, err = alice.Do(req)
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, 0, env.StatusCode)
	assert.Equal(t, float64(2), env.Data["version"])
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, 0, env.StatusCode)
	assert.Equal(t, true, env.Data["ok"])
	assert.Equal(t, "memory", env.Data["storage"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// A completed request seeds the counters before the scrape.
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "specmarket_http_requests_total")
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.String()
}

func newCookieClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}
