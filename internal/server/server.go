package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dukerupert/recipes/internal/middleware"
)

// Config configures the companion web server.
type Config struct {
	// APIURL is where the recipe API is mounted, e.g.
	// "http://localhost:3040/api/". Requests to /api/* are forwarded there
	// with the /api prefix removed.
	APIURL string
	// StaticDir holds the built single-page app, including index.html.
	StaticDir string
	// Secret is sent as Express-Secret when fetching recipes for previews.
	Secret string
	// ShoppingListLabel prefixes the description of shared list links.
	ShoppingListLabel string
	// PreviewLimit caps preview page requests per client and minute.
	PreviewLimit int
	// UpstreamTimeout bounds preview fetches from the API.
	UpstreamTimeout time.Duration
}

type Server struct {
	cfg         Config
	api         *url.URL
	client      *http.Client
	proxy       *httputil.ReverseProxy
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Server, error) {
	api, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if api.Scheme == "" || api.Host == "" {
		return nil, fmt.Errorf("api url %q must be absolute", cfg.APIURL)
	}
	if cfg.StaticDir == "" {
		return nil, fmt.Errorf("static dir is required")
	}
	if cfg.ShoppingListLabel == "" {
		cfg.ShoppingListLabel = "Einkaufsliste"
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = 30
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:         cfg,
		api:         api,
		client:      &http.Client{Timeout: cfg.UpstreamTimeout},
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
	s.proxy = s.newProxy()
	return s, nil
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger.With("component", "http")))
	r.Use(chimw.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Handle("/api", s.proxy)
	r.Handle("/api/*", s.proxy)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.rateLimiter, middleware.ByIP, s.cfg.PreviewLimit, time.Minute))
		r.Get("/recipes/*", s.recipePreview)
		r.Get("/uniqueRecipes/*", s.recipePreview)
	})
	r.Get("/shoppingLists/*", s.shoppingListPreview)

	r.NotFound(s.spa)
	r.MethodNotAllowed(s.spa)
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
