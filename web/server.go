package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/config"
	"github.com/stevegt/sonarchat/core"
)

//go:embed index.html
var indexHTML string

var tmpl = template.Must(template.New("index").Parse(indexHTML))

// Server is the browser UI.  It owns one Session and the draft form
// the user is editing; the draft only reaches the Session when it is
// submitted and valid.
type Server struct {
	session *core.Session
	pool    *ClientPool
	router  *mux.Router

	mu    sync.Mutex
	draft config.Form
}

// NewServer returns a server for session, with form as the initial
// draft.
func NewServer(session *core.Session, form config.Form) *Server {
	s := &Server{
		session: session,
		pool:    NewClientPool(),
		draft:   form.Clone(),
	}
	r := mux.NewRouter()
	r.HandleFunc("/", s.indexHandler).Methods("GET")
	r.HandleFunc("/ws", s.wsHandler)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", s.getConfigHandler).Methods("GET")
	api.HandleFunc("/config", s.postConfigHandler).Methods("POST")
	api.HandleFunc("/config/reset", s.resetHandler).Methods("POST")
	api.HandleFunc("/domains", s.addDomainHandler).Methods("POST")
	api.HandleFunc("/domains/{entry}", s.removeDomainHandler).Methods("DELETE")
	api.HandleFunc("/token", s.tokenHandler).Methods("POST")
	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/chat", s.chatHandler).Methods("POST")
	api.HandleFunc("/transcript", s.transcriptHandler).Methods("GET")
	api.HandleFunc("/tokencount", s.tokenCountHandler).Methods("GET")
	api.Use(guard)
	r.Use(logRequests)
	s.router = r
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Draft returns a copy of the draft form.
func (s *Server) Draft() config.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

// Start runs the websocket pool and forwards session events to it
// until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.pool.Start(ctx)
	events, cancel := s.session.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				s.pool.Broadcast(ev)
			}
		}
	}()
}

// ListenAndServe serves the UI on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) (err error) {
	s.Start(ctx)
	srv := &http.Server{Addr: addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()
	log.Printf("Starting server on %s", addr)
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received %s request for %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// guard refuses state-changing API requests from other origins.
// POST bodies must be declared as JSON, which a cross-origin page
// cannot send without a preflight.
func guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if !sameOrigin(r) {
			writeError(w, http.StatusForbidden, "cross-origin request from %s refused", r.Header.Get("Origin"))
			return
		}
		if r.Method == http.MethodPost {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("%d: %s", status, msg)
	writeJSON(w, status, map[string]string{"error": msg})
}

type indexData struct {
	Version string
	Models  []string
	Recency []string
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	data := indexData{Version: core.Version, Recency: config.RecencyFilters}
	for _, m := range config.ListModels() {
		data.Models = append(data.Models, m.Name)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		log.Printf("template error: %v", err)
	}
}

// configResponse carries the draft, the active request parameters,
// and any validation errors of the draft.
type configResponse struct {
	Form   config.Form             `json:"form"`
	Config *config.Config          `json:"config"`
	Errors config.ValidationErrors `json:"errors,omitempty"`
	// Warnings are reasons an applied configuration does not take
	// full effect.
	Warnings []string `json:"warnings,omitempty"`
}

// warnings returns what the user should know about the applied
// configuration.
func (s *Server) warnings() (out []string) {
	if s.session.SystemMessageStale() {
		out = append(out, core.StaleSystemMessage)
	}
	return
}

func (s *Server) getConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{Form: s.Draft(), Config: s.session.Config(), Warnings: s.warnings()})
}

// postConfigHandler is the form submit action: the posted form
// becomes the draft, and replaces the session configuration if it
// is valid.
func (s *Server) postConfigHandler(w http.ResponseWriter, r *http.Request) {
	form := s.Draft()
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "cannot decode form: %v", err)
		return
	}
	s.mu.Lock()
	s.draft = form.Clone()
	s.mu.Unlock()

	cfg, err := config.Build(form)
	if err != nil {
		var verrs config.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, configResponse{Form: form, Config: s.session.Config(), Errors: verrs})
		return
	}
	s.session.Configure(cfg)
	s.pool.Broadcast(map[string]string{"type": "config"})
	writeJSON(w, http.StatusOK, configResponse{Form: form, Config: cfg, Warnings: s.warnings()})
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.draft = config.Defaults()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, configResponse{Form: s.Draft(), Config: s.session.Config()})
}

type domainResponse struct {
	Changed bool                `json:"changed"`
	Domains config.DomainFilter `json:"search_domain_filter"`
}

func (s *Server) addDomainHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entry string `json:"entry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "cannot decode request: %v", err)
		return
	}
	s.mu.Lock()
	changed := s.draft.SearchDomainFilter.Add(req.Entry)
	domains := s.draft.SearchDomainFilter.Clone()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, domainResponse{Changed: changed, Domains: domains})
}

func (s *Server) removeDomainHandler(w http.ResponseWriter, r *http.Request) {
	entry := mux.Vars(r)["entry"]
	s.mu.Lock()
	changed := s.draft.SearchDomainFilter.Remove(entry)
	domains := s.draft.SearchDomainFilter.Clone()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, domainResponse{Changed: changed, Domains: domains})
}

func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "cannot decode request: %v", err)
		return
	}
	s.session.SetCredential(req.Token)
	s.statusHandler(w, r)
}

type statusResponse struct {
	State         string `json:"state"`
	Ready         bool   `json:"ready"`
	Configured    bool   `json:"configured"`
	HasCredential bool   `json:"has_credential"`
	Messages      int    `json:"messages"`
}

func (s *Server) status() statusResponse {
	return statusResponse{
		State:         s.session.State().String(),
		Ready:         s.session.Ready(),
		Configured:    s.session.Config() != nil,
		HasCredential: s.session.HasCredential(),
		Messages:      s.session.Transcript().Len(),
	}
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

type chatResponse struct {
	Changed  bool    `json:"changed"`
	Messages []Entry `json:"messages"`
}

// chatHandler runs one turn and returns the resulting transcript.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "cannot decode request: %v", err)
		return
	}
	changed, err := s.session.Send(r.Context(), req.Content)
	if errors.Is(err, core.ErrPending) {
		writeError(w, http.StatusConflict, "%v", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	Debug("chat turn changed=%v", changed)
	writeJSON(w, http.StatusOK, chatResponse{Changed: changed, Messages: renderEntries(s.session.Transcript())})
}

func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":    s.session.State().String(),
		"messages": renderEntries(s.session.Transcript()),
	})
}

func (s *Server) tokenCountHandler(w http.ResponseWriter, r *http.Request) {
	count, err := core.TranscriptTokens(s.session.Transcript())
	if err != nil {
		log.Printf("Token count error: %v", err)
		count = 0
	}
	limit := 0
	if cfg := s.session.Config(); cfg != nil {
		limit = cfg.TokenLimit()
	}
	writeJSON(w, http.StatusOK, map[string]int{"tokens": count, "limit": limit})
}

// wsHandler handles WebSocket connections.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan interface{}, 256),
		pool: s.pool,
		id:   fmt.Sprintf("client-%s", r.RemoteAddr),
	}
	// let the new client draw the current state
	client.send <- map[string]interface{}{"type": "status", "status": s.status()}
	if !s.pool.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
