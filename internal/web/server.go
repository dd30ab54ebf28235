package web

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/tossie79/tmhcc-insurance/internal/apiclient"
	"github.com/tossie79/tmhcc-insurance/internal/notify"
	"github.com/tossie79/tmhcc-insurance/internal/render"
)

//go:embed templates/*.html static/*.css
var assetsFS embed.FS

// DefaultDatastarURL is the browser bundle loaded by the host page.
const DefaultDatastarURL = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0/bundles/datastar.js"

type ServerConfig struct {
	Addr       string
	BackendURL string

	// BackendTimeout bounds one backend exchange. Zero uses the client default.
	BackendTimeout time.Duration

	// NotificationTTL is how long a notification stays on screen.
	NotificationTTL time.Duration

	// SessionIdleTTL evicts sessions that made no request for this long.
	SessionIdleTTL time.Duration

	DatastarURL string

	Logger logr.Logger

	// HTTPClient overrides the backend transport (tests).
	HTTPClient *http.Client
}

type Server struct {
	cfg      ServerConfig
	tmpl     *template.Template
	api      *apiclient.Client
	log      logr.Logger
	sessions *sessionRegistry
	hooks    lifecycle
}

func NewServer(cfg ServerConfig) (*Server, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.BackendURL = strings.TrimSpace(cfg.BackendURL)
	cfg.DatastarURL = strings.TrimSpace(cfg.DatastarURL)
	if cfg.Addr == "" {
		return nil, errors.New("web: addr is empty")
	}
	if cfg.BackendURL == "" {
		return nil, errors.New("web: backend url is empty")
	}
	if cfg.NotificationTTL <= 0 {
		cfg.NotificationTTL = notify.DefaultTTL
	}
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = 2 * time.Hour
	}
	if cfg.DatastarURL == "" {
		cfg.DatastarURL = DefaultDatastarURL
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	api, err := apiclient.New(apiclient.Config{
		BaseURL:    cfg.BackendURL,
		Timeout:    cfg.BackendTimeout,
		HTTPClient: cfg.HTTPClient,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("base").Funcs(template.FuncMap{
		"trim": strings.TrimSpace,
		"bind": bindingAttrs,
	}).ParseFS(assetsFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:      cfg,
		tmpl:     tmpl,
		api:      api,
		log:      log.WithName("web"),
		sessions: newSessionRegistry(cfg.NotificationTTL, cfg.SessionIdleTTL),
	}
	srv.hooks = lifecycle{
		beforeRequest: srv.onBeforeRequest,
		responseError: srv.onResponseError,
		afterRequest:  srv.onAfterRequest,
		beforeSwap:    srv.onBeforeSwap,
	}
	return srv, nil
}

func (s *Server) Addr() string { return s.cfg.Addr }

// Close stops every session's pending notification timer.
func (s *Server) Close() { s.sessions.closeAll() }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/static/app.css", s.handleAppCSS)
	r.Get("/static/datastar.js", s.handleDatastarJS)
	r.Get("/", s.handleHome)

	r.Get(render.PathEvents, s.handleEvents)
	r.Get(render.PathLoadAll, s.handleLoadAll)
	r.Get("/ui/policies/{policyNumber}/details", s.handleViewDetails)
	r.Post(render.PathSearch, s.handleSearch)
	r.Post(render.PathSearchKeypress, s.handleSearchKeypress)
	r.Post(render.PathCloseSearch, s.handleCloseSearch)
	r.Post(render.PathCloseModal, s.handleCloseModal)
	r.Post(render.PathDismissNotice, s.handleDismissNotice)
	return r
}

// The datastar bundle is not vendored; the local route keeps pages that
// reference it working.
func (s *Server) handleDatastarJS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.cfg.DatastarURL, http.StatusFound)
}

func (s *Server) handleAppCSS(w http.ResponseWriter, r *http.Request) {
	b, err := assetsFS.ReadFile("static/app.css")
	if err != nil || len(b) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type homeVM struct {
	DatastarURL string
	Signals     template.HTMLAttr
	Events      template.HTMLAttr
	InitialLoad template.HTMLAttr
	LoadAll     template.HTMLAttr
	Search      template.HTMLAttr
	CloseSearch template.HTMLAttr
	CloseModal  template.HTMLAttr
	ListLoading template.HTML
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.sessions.ensure(w, r)
	vm := homeVM{
		DatastarURL: s.cfg.DatastarURL,
		Signals:     plainAttr("data-signals", initialSignals),
		Events:      plainAttr("data-init", "@get('"+render.PathEvents+"')"),
		InitialLoad: plainAttr("data-init", "@get('"+render.PathLoadAll+"?initial=1')"),
		LoadAll:     onAttr("click", render.LoadAllAction()),
		Search:      onAttr("click", render.SearchAction()),
		CloseSearch: onAttr("click", render.CloseSearchAction()),
		CloseModal:  onAttr("click", render.CloseModalAction()),
		ListLoading: template.HTML(render.RegionPolicies.Loading()),
	}
	s.writeHTMLTemplate(w, "index.html", vm)
}

func (s *Server) renderTemplate(name string, data any) (string, error) {
	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Server) writeHTMLTemplate(w http.ResponseWriter, name string, data any) {
	html, err := s.renderTemplate(name, data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}
