package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blobvault/internal/domain"
	"github.com/prn-tf/blobvault/internal/service"
)

// Blob response headers set on HEAD.
const (
	HeaderBlobSize        = "X-Blob-Size"
	HeaderBlobCreatedAt   = "X-Blob-Created-At"
	HeaderBlobStorageKind = "X-Blob-Storage-Kind"
)

// BlobService is the facade the blob handlers call.
type BlobService interface {
	Store(ctx context.Context, input service.StoreInput) (*domain.Metadata, error)
	Retrieve(ctx context.Context, objectID string) (*service.RetrieveOutput, error)
	Stat(ctx context.Context, objectID string) (*domain.Metadata, error)
}

// BlobHandler handles the /v1/blobs API.
type BlobHandler struct {
	blobs  BlobService
	logger zerolog.Logger
}

// NewBlobHandler creates a new BlobHandler.
func NewBlobHandler(blobs BlobService, logger zerolog.Logger) *BlobHandler {
	return &BlobHandler{
		blobs:  blobs,
		logger: logger.With().Str("handler", "blob").Logger(),
	}
}

// RegisterRoutes registers blob routes.
func (h *BlobHandler) RegisterRoutes(r chi.Router) {
	r.Post("/blobs", h.Store)
	r.Get("/blobs/{blobID}", h.Get)
	r.Head("/blobs/{blobID}", h.Head)
}

// =============================================================================
// Request/Response Structs
// =============================================================================

// storeRequest is the POST /v1/blobs body. Pointers distinguish absent fields.
type storeRequest struct {
	ID   *string `json:"id"`
	Data *string `json:"data"`
}

// blobResponse is the GET /v1/blobs/{blobID} body.
type blobResponse struct {
	ID        string    `json:"id"`
	Data      string    `json:"data"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// Handlers
// =============================================================================

// Store handles POST /v1/blobs.
func (h *BlobHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeDecodeError(w, err)
		return
	}

	if req.ID == nil || req.Data == nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Fields 'id' and 'data' are required")
		return
	}

	data, err := base64.StdEncoding.DecodeString(*req.Data)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid base64 data")
		return
	}

	if _, err := h.blobs.Store(r.Context(), service.StoreInput{
		ObjectID: *req.ID,
		Data:     data,
	}); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Message: "Blob stored successfully"})
}

// blobIDParam returns the decoded {blobID} segment. chi routes on
// URL.RawPath when the request carries one, which leaves the param escaped.
func blobIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "blobID")
	if r.URL.RawPath == "" {
		return id, nil
	}
	return url.PathUnescape(id)
}

// Get handles GET /v1/blobs/{blobID}.
func (h *BlobHandler) Get(w http.ResponseWriter, r *http.Request) {
	blobID, err := blobIDParam(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid blob ID")
		return
	}

	out, err := h.blobs.Retrieve(r.Context(), blobID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, blobResponse{
		ID:        out.Metadata.ObjectID,
		Data:      base64.StdEncoding.EncodeToString(out.Data),
		Size:      out.Metadata.Size,
		CreatedAt: out.Metadata.CreatedAt,
	})
}

// Head handles HEAD /v1/blobs/{blobID}. Only metadata is read.
func (h *BlobHandler) Head(w http.ResponseWriter, r *http.Request) {
	blobID, err := blobIDParam(r)
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	meta, err := h.blobs.Stat(r.Context(), blobID)
	if err != nil {
		w.WriteHeader(statusOf(err))
		return
	}

	w.Header().Set(HeaderBlobSize, strconv.FormatInt(meta.Size, 10))
	w.Header().Set(HeaderBlobCreatedAt, meta.CreatedAt.UTC().Format(time.RFC3339Nano))
	w.Header().Set(HeaderBlobStorageKind, meta.StorageKind.String())
	w.WriteHeader(http.StatusOK)
}

// =============================================================================
// Error Mapping
// =============================================================================

func (h *BlobHandler) writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError

	switch {
	case errors.As(err, &maxBytesErr):
		writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.As(err, &typeErr):
		writeDetail(w, http.StatusUnprocessableEntity, "Field '"+typeErr.Field+"' must be a string")
	case errors.Is(err, io.EOF):
		writeDetail(w, http.StatusBadRequest, "Request body is empty")
	default:
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
	}
}

// writeServiceError maps facade errors to responses. Backend error text
// is logged and never returned to the client.
func (h *BlobHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)

	switch status {
	case http.StatusNotFound:
		writeDetail(w, status, "Blob not found")
	case http.StatusConflict:
		writeDetail(w, status, "Blob already exists")
	case http.StatusUnprocessableEntity:
		writeDetail(w, status, "Invalid blob ID")
	default:
		h.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg("blob request failed")
		writeDetail(w, status, "Internal server error")
	}
}

// statusOf returns the HTTP status for a facade error.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrObjectAlreadyExists):
		return http.StatusConflict
	case domain.IsInvalidInput(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
