package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/home"
	custommw "finitefield.org/bookfinder/internal/httpserver/middleware"
	"finitefield.org/bookfinder/internal/identity"
	"finitefield.org/bookfinder/internal/live"
	"finitefield.org/bookfinder/internal/platform/observability"
	appsession "finitefield.org/bookfinder/internal/session"
	"finitefield.org/bookfinder/public"
)

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// Config holds the collaborators and runtime options of the web server.
type Config struct {
	Address      string
	Logger       *zap.Logger
	Sessions     *appsession.Manager
	Identity     identity.Provider
	Catalog      home.Searcher
	Wishlist     home.Wishlist
	Hub          *live.Hub
	Rand         catalog.Rand
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// New constructs the HTTP server with its middleware stack and embedded assets.
func New(cfg Config) (*http.Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("httpserver: session manager is required")
	}
	if cfg.Identity == nil || cfg.Catalog == nil || cfg.Wishlist == nil {
		return nil, errors.New("httpserver: identity, catalog and wishlist are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Hub == nil {
		cfg.Hub = live.NewHub()
	}

	staticContent, err := public.StaticFS()
	if err != nil {
		return nil, fmt.Errorf("httpserver: embed static: %w", err)
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.TraceMiddleware())
	router.Use(observability.RequestLogging(cfg.Logger))
	router.Use(observability.Recover())

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/public/static/*", http.StripPrefix("/public/static/", http.FileServer(http.FS(staticContent))))

	screens := &screenFactory{
		identity: cfg.Identity,
		catalog:  cfg.Catalog,
		wishlist: cfg.Wishlist,
		rand:     cfg.Rand,
		genres:   catalog.Genres(),
		searches: home.NewSearchLedger(),
	}
	homeH := &homeHandlers{screens: screens, hub: cfg.Hub}
	authH := &authHandlers{identity: cfg.Identity}
	liveH := &liveHandler{sessions: cfg.Sessions, identity: cfg.Identity, hub: cfg.Hub}

	// The websocket route stays outside the session middleware: a hijacked
	// connection cannot carry a Set-Cookie.
	router.Get("/live", liveH.ServeHTTP)

	router.Group(func(r chi.Router) {
		r.Use(custommw.HTMX())
		r.Use(custommw.NoStore())
		r.Use(custommw.Session(cfg.Sessions))
		r.Use(custommw.CSRF())

		r.Get("/", homeH.Home)
		RegisterFragment(r, "/books", homeH.Books)
		r.Post("/wishlist", homeH.AddToWishlist)
		r.Post("/logout", homeH.Logout)

		r.Get("/login", authH.LoginForm)
		r.Post("/login", authH.LoginSubmit)
		r.Get("/signup", authH.SignupForm)
		r.Post("/signup", authH.SignupSubmit)
	})

	return &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  durationOr(cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout: durationOr(cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:  durationOr(cfg.IdleTimeout, defaultIdleTimeout),
	}, nil
}

// RegisterFragment registers a GET handler intended for htmx fragment rendering.
func RegisterFragment(r chi.Router, pattern string, handler http.HandlerFunc) {
	r.With(custommw.RequireHTMX()).Get(pattern, handler)
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
