// Package dashboard serves the scan web form and the JSON API. It owns
// the sqlite scan journal and delegates the actual probing to the scan
// engine.
package dashboard

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/CZERTAINLY/port-lens/internal/dashboard/store"
	"github.com/CZERTAINLY/port-lens/internal/log"
	"github.com/CZERTAINLY/port-lens/internal/model"
	"github.com/CZERTAINLY/port-lens/internal/policy"
	"github.com/CZERTAINLY/port-lens/internal/probe"

	"github.com/gorilla/mux"
)

//go:embed index.html
var templateFS embed.FS

// Prober is the scan engine seam. The timeout is the per probe
// connect timeout requested for this scan.
type Prober interface {
	Scan(ctx context.Context, host string, portList []int, timeout time.Duration) (probe.Report, error)
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context, host string, portList []int, timeout time.Duration) (probe.Report, error)

func (f ProberFunc) Scan(ctx context.Context, host string, portList []int, timeout time.Duration) (probe.Report, error) {
	return f(ctx, host, portList, timeout)
}

type Server struct {
	cfg    model.Config
	pol    policy.Policy
	prober Prober
	db     *sql.DB
	tmpl   *template.Template
}

func New(ctx context.Context, cfg model.Config, pol policy.Policy, prober Prober) (*Server, error) {
	// init new or read-in the existing sqlite state file
	db, err := store.InitDB(ctx, cfg.Server.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failure initializing sqlite database: %w", err)
	}

	tmpl, err := template.ParseFS(templateFS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("parsing embedded template failed: %w", err)
	}

	return &Server{
		cfg:    cfg,
		pol:    pol,
		prober: prober,
		db:     db,
		tmpl:   tmpl,
	}, nil
}

func (s *Server) Close(ctx context.Context) {
	if err := s.db.Close(); err != nil {
		slog.ErrorContext(ctx, "Got error while closing *sql.DB.", slog.String("error", err.Error()))
	}
}

func (s *Server) Handler() *mux.Router {
	r := mux.NewRouter()

	r.Use(httpInfoContext)

	r.HandleFunc("/", s.index).Methods(http.MethodGet)
	r.HandleFunc("/scan", s.scanForm).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/health", s.checkHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/scan", s.apiScan).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/scans", s.apiListScans).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/scans/{uuid}", s.apiGetScan).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/scans/{uuid}", s.apiDeleteScan).Methods(http.MethodDelete)

	return r
}

func httpInfoContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		// Add structured HTTP attributes to context
		ctx := log.ContextAttrs(r.Context(), slog.Group("http-info",
			slog.String("method", r.Method),
			slog.String("url-path", r.URL.Path),
		))

		// Pass updated request into chain
		r = r.WithContext(ctx)
		next.ServeHTTP(w, r)
	})
}
