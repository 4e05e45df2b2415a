// Package server exposes an hcp.Client over a small read-only HTTP API.
//
//	GET  /healthz
//	GET  /buckets
//	GET  /objects?prefix=&delimiter=&trailing_slash=&max_keys=&all=&bucket=
//	HEAD /objects/{key...}?bucket=
//	GET  /objects/{key...}?bucket=
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/hcp"
	"github.com/koustreak/hcpfetch/internal/logger"
)

// Server routes HTTP requests to an hcp.Client.
type Server struct {
	client *hcp.Client
	log    *logger.Logger
	router chi.Router
}

// New builds the router. A nil log discards request logs.
func New(client *hcp.Client, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{client: client, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/buckets", s.handleBuckets)
	r.Get("/objects", s.handleList)
	r.Head("/objects/*", s.handleHead)
	r.Get("/objects/*", s.handleGet)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then drains in-flight
// requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("gateway listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.InfoWith("request", map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	names, err := s.client.ListBuckets(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := []hcp.CallOption{hcp.Bucket(q.Get("bucket"))}
	for _, flag := range []struct {
		name  string
		apply func(bool) hcp.CallOption
	}{
		{"delimiter", hcp.Delimiter},
		{"trailing_slash", hcp.TrailingSlash},
	} {
		if v := q.Get(flag.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				s.writeError(w, errs.Newf(errs.ErrKindInvalidInput, "%s must be a boolean", flag.name))
				return
			}
			opts = append(opts, flag.apply(b))
		}
	}
	if v := q.Get("max_keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, errs.New(errs.ErrKindInvalidInput, "max_keys must be an integer"))
			return
		}
		opts = append(opts, hcp.MaxKeys(n))
	}

	list := s.client.ListObjects
	if v := q.Get("all"); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, errs.New(errs.ErrKindInvalidInput, "all must be a boolean"))
			return
		}
		if all {
			list = s.client.ListAll
		}
	}

	entries, err := list(r.Context(), q.Get("prefix"), opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	ok, err := s.client.Exists(r.Context(), key, hcp.Bucket(r.URL.Query().Get("bucket")))
	if err != nil {
		w.WriteHeader(statusOf(err))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	obj, found, err := s.client.GetObject(r.Context(), key, hcp.Bucket(r.URL.Query().Get("bucket")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, errs.Newf(errs.ErrKindNotFound, "object %q not found", key))
		return
	}
	defer obj.Close()

	info := obj.Info()
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj); err != nil {
		s.log.ErrorWith("stream interrupted", err, map[string]any{"key": key})
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorWith("request failed", err, nil)
	}
	s.writeJSON(w, status, errorBody{Error: err.Error(), Kind: errs.KindOf(err).String()})
}

// statusOf maps an error kind onto an HTTP status. A QueryMismatch is
// "nothing under that prefix" and reads as 404 to HTTP clients.
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindNotFound, errs.ErrKindQueryMismatch:
		return http.StatusNotFound
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// writeJSON encodes v as the response body. The status line is already
// sent when encoding fails, so the failure is only logged.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.With().Err(err).Int("status", status).Logger().Debug("failed to encode response")
	}
}
