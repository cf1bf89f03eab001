package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/blobvault/internal/auth"
	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/lock"
	"github.com/prn-tf/blobvault/internal/metrics"
	"github.com/prn-tf/blobvault/internal/repository/sqlite"
	"github.com/prn-tf/blobvault/internal/service"
	"github.com/prn-tf/blobvault/internal/storage"
)

const testToken = "s3cret-token-value"

type testServer struct {
	handler http.Handler
	blobs   *service.BlobService
	medium  *storage.LocalMedium
	dataDir string
}

func newTestServer(t *testing.T, maxBody int64) *testServer {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "blobvault.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	dataDir := filepath.Join(t.TempDir(), "blobs")
	medium, err := storage.NewLocalMedium(dataDir)
	require.NoError(t, err)

	locker := lock.NewMemoryLocker()
	t.Cleanup(locker.Stop)

	blobs := service.NewBlobService(db.Repositories().Metadata, medium, locker, nil, zerolog.Nop())

	authCfg := auth.Config{SecretKey: testToken}
	verifier, err := auth.NewVerifier(authCfg)
	require.NoError(t, err)

	h := NewRouter(RouterConfig{
		BlobHandler:    NewBlobHandler(blobs, zerolog.Nop()),
		HealthHandler:  NewHealthHandler(db, zerolog.Nop()),
		AuthMiddleware: auth.Middleware(verifier, authCfg),
		MaxBodySize:    maxBody,
		Logger:         zerolog.Nop(),
	})

	return &testServer{handler: h, blobs: blobs, medium: medium, dataDir: dataDir}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func storeBody(id string, data []byte) map[string]string {
	return map[string]string{"id": id, "data": base64.StdEncoding.EncodeToString(data)}
}

func countFiles(t *testing.T, root string) int {
	t.Helper()

	n := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

// =============================================================================
// Tests
// =============================================================================

func TestRoot(t *testing.T) {
	srv := newTestServer(t, 0)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"blobvault: data storage service is running"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 0)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","database":"ok"}`, rec.Body.String())
}

func TestBlobRoundTrip(t *testing.T) {
	srv := newTestServer(t, 0)

	payload := make([]byte, 1_000_000)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	rec := srv.do(t, http.MethodPost, "/v1/blobs", storeBody("big-blob", payload))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Blob stored successfully"}`, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/v1/blobs/big-blob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got blobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "big-blob", got.ID)
	assert.Equal(t, int64(len(payload)), got.Size)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	decoded, err := base64.StdEncoding.DecodeString(got.Data)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, decoded))
}

func TestStoreEmptyPayload(t *testing.T) {
	srv := newTestServer(t, 0)

	rec := srv.do(t, http.MethodPost, "/v1/blobs", storeBody("empty", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/blobs/empty", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":""`)
	assert.Contains(t, rec.Body.String(), `"size":0`)
}

func TestGetUnknownBlob(t *testing.T) {
	srv := newTestServer(t, 0)

	rec := srv.do(t, http.MethodGet, "/v1/blobs/nonexistent-id", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Blob not found"}`, rec.Body.String())
}

func TestStoreRejections(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantDetail string
	}{
		{
			name:       "invalid base64",
			body:       map[string]string{"id": "bad", "data": "not-base64!!!"},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "Invalid base64 data",
		},
		{
			name:       "missing data",
			body:       map[string]string{"id": "bad"},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "Fields 'id' and 'data' are required",
		},
		{
			name:       "missing id",
			body:       map[string]string{"data": "aGVsbG8="},
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "Fields 'id' and 'data' are required",
		},
		{
			name:       "non-string data",
			body:       `{"id":"bad","data":42}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "Field 'data' must be a string",
		},
		{
			name:       "malformed json",
			body:       `{"id":`,
			wantStatus: http.StatusBadRequest,
			wantDetail: "Invalid JSON body",
		},
		{
			name:       "empty body",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantDetail: "Request body is empty",
		},
		{
			name:       "path separator in id",
			body:       storeBody("a/b", []byte("x")),
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "Invalid blob ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, 0)

			rec := srv.do(t, http.MethodPost, "/v1/blobs", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var got detailResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.wantDetail, got.Detail)

			assert.Zero(t, countFiles(t, srv.dataDir), "nothing may reach the medium")
			_, err := srv.blobs.Stat(context.Background(), "bad")
			assert.ErrorIs(t, err, domain.ErrObjectNotFound)
		})
	}
}

func TestStoreDuplicate(t *testing.T) {
	srv := newTestServer(t, 0)

	rec := srv.do(t, http.MethodPost, "/v1/blobs", storeBody("dup", []byte("first")))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodPost, "/v1/blobs", storeBody("dup", []byte("second")))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"detail":"Blob already exists"}`, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/v1/blobs/dup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), base64.StdEncoding.EncodeToString([]byte("first")))
}

func TestStoreBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, 256)

	rec := srv.do(t, http.MethodPost, "/v1/blobs", storeBody("huge", bytes.Repeat([]byte("a"), 1024)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, countFiles(t, srv.dataDir))
}

func TestHeadBlob(t *testing.T) {
	srv := newTestServer(t, 0)

	rec := srv.do(t, http.MethodPost, "/v1/blobs", storeBody("head-me", []byte("hello")))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodHead, "/v1/blobs/head-me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get(HeaderBlobSize))
	assert.Equal(t, "local", rec.Header().Get(HeaderBlobStorageKind))
	_, err := time.Parse(time.RFC3339Nano, rec.Header().Get(HeaderBlobCreatedAt))
	assert.NoError(t, err)
	assert.Zero(t, rec.Body.Len())

	rec = srv.do(t, http.MethodHead, "/v1/blobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlobIDsWithReservedCharacters(t *testing.T) {
	tests := []struct {
		id   string
		path string
	}{
		{"a;b", "/v1/blobs/a%3Bb"},
		{"k:v", "/v1/blobs/k%3Av"},
		{"x,y", "/v1/blobs/x%2Cy"},
		{"a b", "/v1/blobs/a%20b"},
		{"50%off", "/v1/blobs/50%25off"},
		{"q=1&r", "/v1/blobs/q%3D1%26r"},
	}

	srv := newTestServer(t, 0)
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			payload := []byte("payload of " + tt.id)

			rec := srv.do(t, http.MethodPost, "/v1/blobs", storeBody(tt.id, payload))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			rec = srv.do(t, http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var got blobResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.id, got.ID)
			assert.Equal(t, base64.StdEncoding.EncodeToString(payload), got.Data)

			rec = srv.do(t, http.MethodHead, tt.path, nil)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestBlobIDParam(t *testing.T) {
	withParam := func(rawPath, param string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/blobs/x", nil)
		r.URL.RawPath = rawPath
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("blobID", param)
		return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}

	id, err := blobIDParam(withParam("", "50%off"))
	require.NoError(t, err)
	assert.Equal(t, "50%off", id, "decoded paths are not decoded twice")

	id, err = blobIDParam(withParam("/v1/blobs/a%3Bb", "a%3Bb"))
	require.NoError(t, err)
	assert.Equal(t, "a;b", id)

	_, err = blobIDParam(withParam("/v1/blobs/%zz", "%zz"))
	assert.Error(t, err)

	rec := httptest.NewRecorder()
	NewBlobHandler(nil, zerolog.Nop()).Get(rec, withParam("/v1/blobs/%zz", "%zz"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"detail":"Invalid blob ID"}`, rec.Body.String())
}

func TestStoreReclaimsOrphanedPayload(t *testing.T) {
	srv := newTestServer(t, 0)

	// A payload left behind by a store that never recorded its metadata.
	_, err := srv.medium.Persist(context.Background(), "crash1", []byte("stale"))
	require.NoError(t, err)

	rec := srv.do(t, http.MethodGet, "/v1/blobs/crash1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/v1/blobs", storeBody("crash1", []byte("fresh")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/v1/blobs/crash1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), base64.StdEncoding.EncodeToString([]byte("fresh")))
	assert.Equal(t, 1, countFiles(t, srv.dataDir))
}

func TestBlobAPIRequiresToken(t *testing.T) {
	srv := newTestServer(t, 0)

	tests := []struct {
		name       string
		header     string
		wantDetail string
	}{
		{"invalid token", "Bearer invalidtoken", "Invalid token."},
		{"wrong scheme", "Basic " + testToken, "Invalid authentication scheme."},
		{"no header", "", "Not authenticated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(storeBody("guarded", []byte("x")))
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/v1/blobs", bytes.NewReader(body))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			assert.JSONEq(t, `{"detail":"`+tt.wantDetail+`"}`, rec.Body.String())
		})
	}

	_, err := srv.blobs.Stat(context.Background(), "guarded")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}

// =============================================================================
// Error mapping
// =============================================================================

type stubBlobService struct {
	err error
}

func (s *stubBlobService) Store(ctx context.Context, input service.StoreInput) (*domain.Metadata, error) {
	return nil, s.err
}

func (s *stubBlobService) Retrieve(ctx context.Context, objectID string) (*service.RetrieveOutput, error) {
	return nil, s.err
}

func (s *stubBlobService) Stat(ctx context.Context, objectID string) (*domain.Metadata, error) {
	return nil, s.err
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"not found", domain.ErrObjectNotFound, http.StatusNotFound, "Blob not found"},
		{"corrupted", domain.ErrObjectCorrupted, http.StatusInternalServerError, "Internal server error"},
		{"storage failure", errors.New("storage failure: disk on fire at /var/lib"), http.StatusInternalServerError, "Internal server error"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{
				BlobHandler: NewBlobHandler(&stubBlobService{err: tt.err}, zerolog.Nop()),
				Metrics:     metrics.New(metrics.NewRegistry()),
				Logger:      zerolog.Nop(),
			})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/blobs/x", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, `{"detail":"`+tt.wantDetail+`"}`, rec.Body.String())
			assert.False(t, strings.Contains(rec.Body.String(), "/var/lib"))
		})
	}
}
