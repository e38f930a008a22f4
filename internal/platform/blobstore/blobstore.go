// Package blobstore keeps the RIPS files produced by generation jobs so they
// can be listed and downloaded after the request that built them returns.
// It defines the BlobStore interface, an in-memory implementation, and Echo
// HTTP handlers for listing, download, metadata retrieval and deletion.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/rips/pkg/pagination"
)

var (
	ErrBlobNotFound       = errors.New("artifact not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the maximum allowed artifact size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// AllowedContentTypes lists the media types of the three RIPS output kinds.
var AllowedContentTypes = map[string]bool{
	"text/plain":      true,
	"text/csv":        true,
	"application/xml": true,
}

// Metadata describes a stored RIPS file.
type Metadata struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Version     string    `json:"version"`
	FileType    string    `json:"file_type"`
	Kind        string    `json:"kind"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Records     int       `json:"records"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	JobID    string
	Version  string
	FileType string
}

// BlobStore defines the contract for artifact storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *Metadata, error)
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*Metadata, error)
	List(ctx context.Context, f Filter, page pagination.Params) ([]*Metadata, int, error)
}

type storedBlob struct {
	seq      int64
	metadata Metadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	seq   int64
	blobs map[string]*storedBlob
	now   func() time.Time
}

// NewInMemoryBlobStore returns a ready-to-use InMemoryBlobStore.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs: make(map[string]*storedBlob),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Upload validates inputs, reads the content, computes a SHA-256 hash, and
// stores the artifact in memory.
func (s *InMemoryBlobStore) Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}
	mediaType, _, err := mime.ParseMediaType(meta.ContentType)
	if err != nil || !AllowedContentTypes[mediaType] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentType, meta.ContentType)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := sha256.Sum256(data)

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = s.now()

	s.mu.Lock()
	s.seq++
	s.blobs[meta.ID] = &storedBlob{
		seq:      s.seq,
		metadata: meta,
		content:  data,
	}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

// Download returns an io.ReadCloser over the artifact content and its metadata.
func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

// Delete removes an artifact by ID.
func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// GetMetadata returns artifact metadata without content.
func (s *InMemoryBlobStore) GetMetadata(_ context.Context, id string) (*Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return &meta, nil
}

// List returns the page of artifacts matching f, in upload order, and the
// total number of matches.
func (s *InMemoryBlobStore) List(_ context.Context, f Filter, page pagination.Params) ([]*Metadata, int, error) {
	s.mu.RLock()
	matched := make([]*storedBlob, 0, len(s.blobs))
	for _, b := range s.blobs {
		if matches(&b.metadata, f) {
			matched = append(matched, b)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	start, end := page.Window(len(matched))
	out := make([]*Metadata, 0, end-start)
	for _, b := range matched[start:end] {
		m := b.metadata
		out = append(out, &m)
	}
	return out, len(matched), nil
}

func matches(m *Metadata, f Filter) bool {
	if f.JobID != "" && m.JobID != f.JobID {
		return false
	}
	if f.Version != "" && m.Version != f.Version {
		return false
	}
	if f.FileType != "" && m.FileType != f.FileType {
		return false
	}
	return true
}

// BlobHandler provides Echo HTTP handlers for stored artifacts.
type BlobHandler struct {
	store BlobStore
}

// NewBlobHandler creates a new BlobHandler.
func NewBlobHandler(store BlobStore) *BlobHandler {
	return &BlobHandler{store: store}
}

// RegisterRoutes mounts artifact routes on the supplied Echo group.
func (h *BlobHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/artifacts", h.handleList)
	g.GET("/artifacts/:id/metadata", h.handleGetMetadata)
	g.GET("/artifacts/:id", h.handleDownload)
	g.DELETE("/artifacts/:id", h.handleDelete)
}

func (h *BlobHandler) handleList(c echo.Context) error {
	page := pagination.FromContext(c)
	f := Filter{
		JobID:    c.QueryParam("job_id"),
		Version:  c.QueryParam("version"),
		FileType: c.QueryParam("file_type"),
	}

	items, total, err := h.store.List(c.Request().Context(), f, page)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := pagination.NewResponse(items, total, page.Limit, page.Offset)
	resp.Links = page.Links(c.Request().URL.Path, c.Request().URL.Query(), total)
	return c.JSON(http.StatusOK, resp)
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	rc, meta, err := h.store.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, meta.FileName))
	c.Response().Header().Set("ETag", `"`+meta.Hash+`"`)
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *BlobHandler) handleGetMetadata(c echo.Context) error {
	meta, err := h.store.GetMetadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, meta)
}

func (h *BlobHandler) handleDelete(c echo.Context) error {
	if err := h.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func storeError(err error) error {
	if errors.Is(err, ErrBlobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
