package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/learnkit/authn"
	"github.com/learnkit/authn/middleware"
)

// Options tune the HTTP surface.
type Options struct {
	Logger *zap.Logger
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// FloodRPS and FloodBurst configure the per-IP request limiter; zero
	// disables it.
	FloodRPS   float64
	FloodBurst int
}

// API holds the handlers for one Engine.
type API struct {
	engine  *authn.Engine
	cookies cookieWriter
	login   string
	logger  *zap.Logger
	opts    Options
}

func New(engine *authn.Engine, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := engine.Config()
	return &API{
		engine:  engine,
		cookies: cookieWriter{cfg: cfg.Cookies, platform: cfg.Platform},
		login:   cfg.Platform.LoginURL,
		logger:  logger,
		opts:    opts,
	}
}

// Routes returns the full handler with middleware applied.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("POST /login_ajax", a.handleLogin)
	mux.HandleFunc("GET /logout", a.handleLogout)
	mux.HandleFunc("POST /logout", a.handleLogout)
	mux.HandleFunc("POST /login_refresh", a.handleLoginRefresh)
	mux.HandleFunc("GET /activate/{key}", a.handleActivate)
	mux.HandleFunc("POST /password_reset/confirm", a.handlePasswordResetConfirm)
	mux.Handle("GET /dashboard", middleware.RequireLogin(a.login)(http.HandlerFunc(a.handleDashboard)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.opts.Metrics != nil {
		mux.Handle("GET /metrics", a.opts.Metrics)
	}

	return middleware.Chain(mux,
		middleware.RequestID(),
		middleware.ClientIP(),
		middleware.AccessLog(a.logger.Named("http")),
		middleware.SecurityHeaders(),
		middleware.FloodLimit(a.opts.FloodRPS, a.opts.FloodBurst),
		middleware.SessionLoader(a.engine, a.cookies.cfg.SessionName, a.logger),
	)
}

// envelope is the login family response body. RedirectURL is always
// present and null when unset.
type envelope struct {
	Success     bool    `json:"success"`
	Value       string  `json:"value"`
	RedirectURL *string `json:"redirect_url"`
}

// resultEnvelope answers the other form endpoints.
type resultEnvelope struct {
	Success bool   `json:"success"`
	Value   string `json:"value,omitempty"`
}

type logoutEnvelope struct {
	Success bool   `json:"success"`
	Target  string `json:"target"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
