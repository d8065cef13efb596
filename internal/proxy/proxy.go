// Package proxy implements the S3 data plane: it authenticates requests,
// resolves logical buckets to backend-specific physical buckets, and
// forwards object operations to the selected backend.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sovgate/sovgate/internal/backends"
	"github.com/sovgate/sovgate/internal/metadata"
	"github.com/sovgate/sovgate/internal/metrics"
	"github.com/sovgate/sovgate/internal/proxyerr"
	"github.com/sovgate/sovgate/internal/sigv4"
)

// Handler serves /s3/{logical_name}/{object_path...} for the verbs
// GET, PUT, DELETE, and HEAD.
type Handler struct {
	Verifier *sigv4.Verifier
	Store    metadata.Store
	Registry *backends.Registry

	// BackendTimeout bounds backend I/O for a single request.
	BackendTimeout time.Duration
}

// ServeHTTP handles one data-plane request end to end. Authentication is
// total: no request reaches a backend unless its signature verifies.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logical := chi.URLParam(r, "logical")
	key := chi.URLParam(r, "*")
	if logical == "" || key == "" {
		writeError(w, r, proxyerr.ErrNotFound.WithMessage("Missing bucket or object path"))
		return
	}

	tenant, err := h.Verifier.VerifyRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	backendID := r.URL.Query().Get("backend_id")
	if backendID == "" {
		backendID = h.Registry.DefaultID()
	}

	mapping, err := h.Store.GetBucketMapping(r.Context(), tenant.CustomerID, logical, backendID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if mapping == nil {
		writeError(w, r, proxyerr.ErrNotFound.WithMessage("Bucket mapping not found for backend"))
		return
	}

	client, err := h.Registry.Get(r.Context(), backendID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if h.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.BackendTimeout)
		defer cancel()
	}

	switch r.Method {
	case http.MethodGet:
		err = h.getObject(ctx, w, client, mapping.BackendBucket, key)
	case http.MethodPut:
		err = h.putObject(ctx, w, r, client, mapping.BackendBucket, key)
	case http.MethodDelete:
		err = h.deleteObject(ctx, w, client, mapping.BackendBucket, key)
	case http.MethodHead:
		err = h.headObject(ctx, w, client, mapping.BackendBucket, key)
	default:
		err = proxyerr.ErrMethodNotAllowed
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		writeError(w, r, err)
	}
	metrics.DataPlaneOperationsTotal.WithLabelValues(r.Method, backendID, outcome).Inc()
}

// getObject streams the object body with the upstream content type and ETag.
func (h *Handler) getObject(ctx context.Context, w http.ResponseWriter, c *backends.Client, bucket, key string) error {
	stream, err := c.GetObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	if stream.ContentType != "" {
		w.Header().Set("Content-Type", stream.ContentType)
	}
	if stream.ETag != "" {
		w.Header().Set("ETag", quoteETag(stream.ETag))
	}
	if stream.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(stream.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, stream.Body); err != nil {
		// Headers are gone; all we can do is log the broken stream.
		slog.Warn("streaming object body failed", "bucket", bucket, "key", key, "error", err)
	}
	return nil
}

// putObject forwards the raw request body with the request's content type.
func (h *Handler) putObject(ctx context.Context, w http.ResponseWriter, r *http.Request, c *backends.Client, bucket, key string) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}

	etag, err := c.PutObject(ctx, bucket, key, body, r.Header.Get("Content-Type"))
	if err != nil {
		return err
	}

	if etag != "" {
		w.Header().Set("ETag", quoteETag(etag))
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "uploaded",
		"backend": c.BackendID,
	})
	return nil
}

// deleteObject removes the object on the backend. Deleting an absent key
// succeeds when the backend treats it as such.
func (h *Handler) deleteObject(ctx context.Context, w http.ResponseWriter, c *backends.Client, bucket, key string) error {
	if err := c.DeleteObject(ctx, bucket, key); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "deleted",
		"backend": c.BackendID,
	})
	return nil
}

// headObject answers with the ETag header only.
func (h *Handler) headObject(ctx context.Context, w http.ResponseWriter, c *backends.Client, bucket, key string) error {
	etag, err := c.HeadObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	if etag != "" {
		w.Header().Set("ETag", quoteETag(etag))
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

// writeError maps an error onto the response. Taxonomy errors carry their
// own status; backend SDK errors pass their HTTP status through when the
// SDK surfaced one, and everything else is a 502 from the client's view.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *proxyerr.Error
	if errors.As(err, &perr) {
		writeJSON(w, perr.HTTPStatus, map[string]string{
			"error":   perr.Code,
			"message": perr.Message,
		})
		return
	}

	status := backends.StatusCode(err)
	if status == 0 || status < 400 {
		status = proxyerr.ErrBackendFailure.HTTPStatus
	}
	slog.Error("data-plane request failed",
		"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, map[string]string{
		"error":   proxyerr.ErrBackendFailure.Code,
		"message": "Backend request failed",
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// quoteETag wraps an entity tag in the quotes S3 clients expect.
func quoteETag(etag string) string {
	return `"` + etag + `"`
}
