package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/lvcoi/ytfetch/internal/downloader"
)

//go:embed assets/*
var embeddedAssets embed.FS

const maxRequestBodyBytes = 1 << 20 // 1 MiB

// Service is the slice of downloader.Service the handlers use.
type Service interface {
	Inspect(ctx context.Context, rawURL string) (*downloader.InspectResult, error)
	Fetch(ctx context.Context, rawURL, formatID string) (*downloader.FetchResult, error)
	MuxerAvailable() bool
	ExtractorName() string
}

type InfoRequest struct {
	URL string `json:"url"`
}

type DownloadRequest struct {
	URL      string `json:"url"`
	FormatID string `json:"format_id"`
}

type formatPayload struct {
	Resolution    string `json:"resolution"`
	FormatID      string `json:"format_id"`
	Filesize      int64  `json:"filesize"`
	Ext           string `json:"ext"`
	HasAudio      bool   `json:"has_audio"`
	WillHaveAudio bool   `json:"will_have_audio"`
}

type infoPayload struct {
	Title           string          `json:"title"`
	Thumbnail       string          `json:"thumbnail"`
	Duration        string          `json:"duration"`
	Author          string          `json:"author"`
	Views           string          `json:"views"`
	Formats         []formatPayload `json:"formats"`
	FFmpegAvailable bool            `json:"ffmpeg_available"`
}

type statusPayload struct {
	Uptime          string `json:"uptime"`
	FFmpegAvailable bool   `json:"ffmpeg_available"`
	Extractor       string `json:"extractor"`
	YtDlpPath       string `json:"ytdlp_path,omitempty"`
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *requestError {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return &requestError{http.StatusUnsupportedMediaType, "content type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	return nil
}

// Server serves the single-page UI and the JSON API.
type Server struct {
	svc       Service
	log       logrus.FieldLogger
	ytDlpPath string
	startedAt time.Time
	assets    fs.FS
}

// New builds a Server. ytDlpPath is only reported by /api/status.
func New(svc Service, ytDlpPath string, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	assets, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		return nil, err
	}
	return &Server{
		svc:       svc,
		log:       log.WithField("component", "web"),
		ytDlpPath: ytDlpPath,
		startedAt: time.Now(),
		assets:    assets,
	}, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(withSecurityHeaders)

	r.Post("/api/info", s.handleInfo)
	r.Post("/get_video_info", s.handleInfo)
	r.Post("/api/download", s.handleDownload)
	r.Post("/download_video", s.handleDownload)
	r.Get("/api/status", s.handleStatus)

	r.NotFound(s.handleStatic)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := s.httpServer(addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.log.WithField("addr", addr).Info("listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// httpServer leaves WriteTimeout unset: a download response lasts as long as
// the extractor runs.
func (s *Server) httpServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req InfoRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSONError(w, http.StatusBadRequest, "url is required")
		return
	}

	result, err := s.svc.Inspect(r.Context(), req.URL)
	if err != nil {
		s.requestLog(r).WithError(err).Warn("inspect failed")
		writeJSONError(w, downloader.HTTPStatus(err), err.Error())
		return
	}

	payload := infoPayload{
		Title:           result.Title,
		Thumbnail:       result.Thumbnail,
		Duration:        result.Duration,
		Author:          result.Author,
		Views:           result.Views,
		Formats:         make([]formatPayload, 0, len(result.Formats)),
		FFmpegAvailable: result.MuxerAvailable,
	}
	for _, f := range result.Formats {
		payload.Formats = append(payload.Formats, formatPayload{
			Resolution:    fmt.Sprintf("%dp", f.Resolution),
			FormatID:      f.FormatID,
			Filesize:      f.Filesize,
			Ext:           f.Ext,
			HasAudio:      f.HasAudio,
			WillHaveAudio: f.WillHaveAudio,
		})
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: payload})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSONError(w, http.StatusBadRequest, "url is required")
		return
	}

	// An empty format_id falls back to the best format with audio.
	result, err := s.svc.Fetch(r.Context(), req.URL, strings.TrimSpace(req.FormatID))
	if err != nil {
		s.requestLog(r).WithError(err).Warn("download failed")
		writeJSONError(w, downloader.HTTPStatus(err), err.Error())
		return
	}
	defer result.Body.Close()

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(result.Filename))
	http.ServeContent(w, r, result.Filename, result.ModTime, result.Body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: statusPayload{
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		FFmpegAvailable: s.svc.MuxerAvailable(),
		Extractor:       s.svc.ExtractorName(),
		YtDlpPath:       s.ytDlpPath,
	}})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name != "" && name != "index.html" && fileExists(s.assets, name) {
		http.FileServer(http.FS(s.assets)).ServeHTTP(w, r)
		return
	}
	serveIndex(w, s.assets)
}

func (s *Server) requestLog(r *http.Request) logrus.FieldLogger {
	return s.log.WithField("request_id", middleware.GetReqID(r.Context()))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.requestLog(r).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).Round(time.Millisecond).String(),
			"remote":   r.RemoteAddr,
		}).Debug("request")
	})
}

// contentDisposition builds an attachment header with an ASCII fallback name
// and the UTF-8 name in filename*.
func contentDisposition(filename string) string {
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback, url.PathEscape(filename))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

func serveIndex(w http.ResponseWriter, assets fs.FS) {
	data, err := fs.ReadFile(assets, "index.html")
	if err != nil {
		http.Error(w, "missing index", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func fileExists(assets fs.FS, name string) bool {
	if name == "" {
		return false
	}
	f, err := assets.Open(name)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func withSecurityHeaders(next http.Handler) http.Handler {
	const cspValue = "default-src 'self'; base-uri 'self'; frame-ancestors 'none'; object-src 'none'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; connect-src 'self'; media-src 'self'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", cspValue)
		next.ServeHTTP(w, r)
	})
}
