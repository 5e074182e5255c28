package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	StartSession  http.HandlerFunc
	GetSession    http.HandlerFunc
	PauseSession  http.HandlerFunc
	ResumeSession http.HandlerFunc
	EndSession    http.HandlerFunc
	Decide        http.HandlerFunc
	DismissNotice http.HandlerFunc
	Events        http.HandlerFunc
	Health        http.HandlerFunc
	Metrics       http.Handler
	Pages         http.Handler

	// Auth protects every /api/ route.
	Auth func(http.Handler) http.Handler
	// Guard wraps page requests.
	Guard func(http.Handler) http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	api := http.NewServeMux()
	if routes.StartSession != nil {
		api.Handle("/api/charging/sessions", method(http.MethodPost, routes.StartSession))
	}
	if routes.GetSession != nil {
		api.Handle("/api/charging/sessions/{id}", method(http.MethodGet, routes.GetSession))
	}
	if routes.PauseSession != nil {
		api.Handle("/api/charging/sessions/{id}/pause", method(http.MethodPost, routes.PauseSession))
	}
	if routes.ResumeSession != nil {
		api.Handle("/api/charging/sessions/{id}/resume", method(http.MethodPost, routes.ResumeSession))
	}
	if routes.EndSession != nil {
		api.Handle("/api/charging/sessions/{id}/end", method(http.MethodPost, routes.EndSession))
	}
	if routes.Decide != nil {
		api.Handle("/api/charging/sessions/{id}/decision", method(http.MethodPost, routes.Decide))
	}
	if routes.DismissNotice != nil {
		api.Handle("/api/charging/sessions/{id}/notice/dismiss", method(http.MethodPost, routes.DismissNotice))
	}
	if routes.Events != nil {
		api.Handle("/api/charging/sessions/{id}/events", method(http.MethodGet, routes.Events))
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", wrap(api, routes.Auth))
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	if routes.Pages != nil {
		mux.Handle("/", wrap(routes.Pages, routes.Guard))
	}
	return mux
}

func wrap(h http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	if mw == nil {
		return h
	}
	return mw(h)
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
