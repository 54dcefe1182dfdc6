package transport

import (
	"embed"
	"io"
	"io/fs"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/felixge/httpsnoop"

	"dream/config"
	"dream/host"
	"dream/host/cors"
	"dream/host/script"
	"dream/internal/errs"
	"dream/message"
	"dream/plug"
	"dream/service"
	"dream/uri"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed resources
var embeddedResources embed.FS

// Server implements the Host's own REST surface (spec §6): blueprint and
// service lifecycle management, script execution, and diagnostics. It is
// grounded on appruntime/apisdk/api/server.go's router setup
// (HandleOPTIONS/RedirectFixedPath/RedirectTrailingSlash all disabled, so
// resolution is delegated entirely to the Feature Directory's own rules
// rather than httprouter's).
type Server struct {
	cfg      *config.Runtime
	h        *host.Host
	logger   zerolog.Logger
	dispatch *DispatchTransport
	router   *httprouter.Router
}

func NewServer(cfg *config.Runtime, h *host.Host, logger zerolog.Logger) *Server {
	local := NewLocalTransport(h.Directory, h.Reqtrack)
	s := &Server{
		cfg:      cfg,
		h:        h,
		logger:   logger,
		dispatch: NewDispatchTransport(local, plug.NewHTTPTransport()),
		router:   newRouter(),
	}
	s.routes()
	return s
}

func newRouter() *httprouter.Router {
	r := httprouter.New()
	r.HandleOPTIONS = false
	r.RedirectFixedPath = false
	r.RedirectTrailingSlash = false
	return r
}

// Handler returns the fully wrapped HTTP handler: CORS, then access
// logging (via httpsnoop, the same response-capture library the teacher
// uses for its trace middleware, here applied to a plain metrics log
// instead of a full body capture), then routing.
func (s *Server) Handler() http.Handler {
	return cors.Wrap(&s.cfg.CORS, nil, nil, s.withAccessLog(s.router))
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", m.Code).
			Dur("duration", m.Duration).
			Int64("bytes", m.Written).
			Msg("host request")
	})
}

func (s *Server) routes() {
	base := s.cfg.HostPath

	s.router.GET(base+"/version", s.handleVersion)

	s.router.GET(base+"/blueprints", s.handleListBlueprints)
	s.router.GET(base+"/blueprints/:key", s.handleGetBlueprint)
	s.router.POST(base+"/blueprints", s.requireAPIKey(s.handleRegisterBlueprint))
	s.router.DELETE(base+"/blueprints/:key", s.requireAPIKey(s.handleDeleteBlueprint))

	s.router.POST(base+"/load", s.requireAPIKey(s.handleLoad))

	s.router.GET(base+"/services", s.handleListServices)
	s.router.POST(base+"/services", s.requireAPIKey(s.handleCreateService))
	s.router.POST(base+"/stop", s.requireAPIKey(s.handleStop))

	s.router.POST(base+"/execute", s.requireAPIKey(s.handleExecute))
	s.router.POST(base+"/convert", s.handleConvert)

	s.router.GET(base+"/status", s.handleStatus)
	s.router.GET(base+"/status/aliases", s.handleStatusAliases)
	s.router.GET(base+"/status/activities", s.handleStatusActivities)
	s.router.GET(base+"/status/features", s.handleStatusFeatures)
	s.router.GET(base+"/status/timers", s.handleStatusTimers)
	s.router.GET(base+"/status/xmlnametable", s.handleStatusXMLNameTable)
	s.router.GET(base+"/status/threads", s.handleStatusThreads)

	s.router.GET(base+"/resources/:name", s.handleResource)

	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead, http.MethodPatch} {
		s.router.Handle(m, base+"/test", s.handleTest)
	}
}

// requireAPIKey gates a mutating endpoint behind the master api-key,
// supplied as a query param or header (spec §6 "all mutating endpoints
// require the master api-key as query or header"). An empty configured
// key disables the check, for local development.
func (s *Server) requireAPIKey(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.cfg.APIKey == "" {
			next(w, r, ps)
			return
		}
		key := r.URL.Query().Get("apikey")
		if key == "" {
			key = r.Header.Get("X-Api-Key")
		}
		if key != s.cfg.APIKey {
			errs.HTTPError(w, errs.B().Code(errs.Auth).Msg("missing or invalid api-key").Err())
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	bps := s.h.Blueprints.List()
	modules := make([]string, 0, len(bps))
	for _, bp := range bps {
		modules = append(modules, bp.Class)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": "1.0",
		"modules": modules,
	})
}

func (s *Server) handleListBlueprints(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.h.Blueprints.List())
}

func (s *Server) handleGetBlueprint(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	bp, ok := s.h.Blueprints.Get(ps.ByName("key"))
	if !ok {
		errs.HTTPError(w, errs.B().Code(errs.NotFound).Msgf("no blueprint registered under %s", ps.ByName("key")).Err())
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) handleRegisterBlueprint(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var bp service.Blueprint
	if err := json.NewDecoder(r.Body).Decode(&bp); err != nil {
		errs.HTTPError(w, errs.B().Code(errs.Input).Cause(err).Msg("malformed blueprint document").Err())
		return
	}
	s.h.Blueprints.Register(bp)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteBlueprint(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.h.Blueprints.Delete(ps.ByName("key")); err != nil {
		errs.HTTPError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoad acknowledges a statically linked service module by name.
// There is no Go equivalent of loading an unknown assembly at runtime
// (the Service Activator registry is populated at process start, by
// design — see service.Activator's doc comment), so this only verifies
// the named class already has a blueprint registered rather than
// dynamically loading anything.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	name := r.URL.Query().Get("name")
	if _, ok := s.h.Blueprints.Get(name); !ok {
		errs.HTTPError(w, errs.B().Code(errs.NotFound).Msgf("no statically linked module named %s", name).Err())
		return
	}
	w.WriteHeader(http.StatusOK)
}

type serviceSummary struct {
	SelfURI  string `json:"self-uri"`
	OwnerURI string `json:"owner-uri,omitempty"`
	SID      string `json:"sid"`
	Class    string `json:"class"`
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entries := s.h.Services.List()
	out := make([]serviceSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, serviceSummary{SelfURI: e.SelfURI, OwnerURI: e.OwnerURI, SID: e.SID, Class: e.Blueprint.Class})
	}
	writeJSON(w, http.StatusOK, out)
}

type createServiceRequest struct {
	Path  string `json:"path"`
	Class string `json:"class"`
	Owner string `json:"owner,omitempty"`
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.HTTPError(w, errs.B().Code(errs.Input).Cause(err).Msg("malformed service document").Err())
		return
	}
	entry, err := s.h.CreateService(r.Context(), req.Path, req.Owner, req.Class)
	if err != nil {
		errs.HTTPError(w, err)
		return
	}
	w.Header().Set("Location", entry.SelfURI)
	writeJSON(w, http.StatusCreated, serviceSummary{SelfURI: entry.SelfURI, OwnerURI: entry.OwnerURI, SID: entry.SID, Class: entry.Blueprint.Class})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		URI string `json:"uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.HTTPError(w, errs.B().Code(errs.Input).Cause(err).Msg("malformed stop request").Err())
		return
	}
	if err := s.h.StopService(r.Context(), req.URI); err != nil {
		errs.HTTPError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		errs.HTTPError(w, errs.B().Code(errs.Input).Cause(err).Msg("could not read script body").Err())
		return
	}
	root, err := script.Parse(data)
	if err != nil {
		errs.HTTPError(w, err)
		return
	}
	base := uri.MustParse("local://" + s.h.GUID)
	result := script.Run(r.Context(), root, base, s.dispatch)

	w.Header().Set(message.HeaderContentType, "text/xml; charset=utf-8")
	var b strings.Builder
	writeScriptResult(&b, result)
	io.WriteString(w, b.String())
}

func writeScriptResult(b *strings.Builder, r *script.Result) {
	b.WriteString("<result")
	if r.ID != "" {
		b.WriteString(` ID="`)
		b.WriteString(escapeAttr(r.ID))
		b.WriteString(`"`)
	}
	b.WriteString(` status="`)
	b.WriteString(strconv.Itoa(r.Status))
	b.WriteString(`">`)
	if len(r.Children) > 0 {
		for _, c := range r.Children {
			writeScriptResult(b, c)
		}
	} else {
		b.WriteString(escapeText(r.Body))
	}
	b.WriteString("</result>")
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escapeText(s string) string { return textEscaper.Replace(s) }
func escapeAttr(s string) string { return attrEscaper.Replace(s) }

// handleConvert echoes the request body back with a new content-type
// (spec §6 "echo body with new content-type"), used by clients that want
// the Host to relabel a payload without reinterpreting it.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ct := r.URL.Query().Get("type")
	if ct == "" {
		ct = r.Header.Get(message.HeaderContentType)
	}
	w.Header().Set(message.HeaderContentType, ct)
	io.Copy(w, r.Body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	results := s.h.Health.RunAll(r.Context())
	type checkOut struct {
		Name  string `json:"name"`
		Error string `json:"error,omitempty"`
	}
	out := make([]checkOut, 0, len(results))
	healthy := true
	for _, res := range results {
		c := checkOut{Name: res.Name}
		if res.Err != nil {
			c.Error = res.Err.Error()
			healthy = false
		}
		out = append(out, c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy":  healthy,
		"checks":   out,
		"services": len(s.h.Services.List()),
		"features": len(s.h.Directory.All()),
	})
}

func (s *Server) handleStatusAliases(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.h.Aliases())
}

func (s *Server) handleStatusActivities(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.h.ReentrantActivity())
}

func (s *Server) handleStatusFeatures(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	features := s.h.Directory.All()
	type featureOut struct {
		Service string `json:"service"`
		Verb    string `json:"verb"`
		Path    string `json:"path"`
		Access  string `json:"access"`
		Hits    uint64 `json:"hits"`
	}
	out := make([]featureOut, 0, len(features))
	for _, f := range features {
		out = append(out, featureOut{
			Service: f.Service,
			Verb:    f.Verb,
			Path:    "/" + strings.Join(f.Segments, "/"),
			Access:  f.Access,
			Hits:    f.Hits(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStatusTimers reports an empty set: this core specifies no
// recurring-timer subsystem, so there is nothing to enumerate.
func (s *Server) handleStatusTimers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, []interface{}{})
}

// handleStatusXMLNameTable reports that there is nothing to show: Doc
// trees (host/pipeline.Doc) intern no process-wide atom table the way a
// shared XML name table would.
func (s *Server) handleStatusXMLNameTable(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{
		"note": "no process-wide XML name table: each Doc tree owns its own strings",
	})
}

// handleStatusThreads reports goroutine count, the nearest Go analogue
// of a thread dump.
func (s *Server) handleStatusThreads(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]int{"goroutines": runtime.NumGoroutine()})
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	data, err := fs.ReadFile(embeddedResources, "resources/"+name)
	if err != nil {
		errs.HTTPError(w, errs.B().Code(errs.NotFound).Cause(err).Msgf("no embedded resource named %s", name).Err())
		return
	}
	w.Write(data)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  r.URL.RawQuery,
		"body":   string(body),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(message.HeaderContentType, "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
