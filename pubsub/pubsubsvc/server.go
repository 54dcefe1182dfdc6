// Package pubsubsvc implements the PubSub REST surface (spec §6):
// registration, replacement, and deletion of subscription sets, and
// event publication, wired to dream/pubsub/subscription and
// dream/pubsub/dispatcher the same way dream/host/transport wires the
// Feature Directory to the Host's own REST surface.
package pubsubsvc

import (
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"dream/config"
	"dream/host/cors"
	"dream/internal/errs"
	"dream/message"
	"dream/pubsub/dispatcher"
	"dream/pubsub/queue"
	"dream/pubsub/subscription"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	headerSetLocationKey = "X-Set-Location-Key"
	headerSetAccessKey   = "X-Set-Access-Key"
)

// Server is the PubSub service's REST frontend.
type Server struct {
	cfg    *config.Runtime
	reg    *subscription.Registry
	repo   *queue.Repository
	disp   *dispatcher.Dispatcher
	logger zerolog.Logger
	router *httprouter.Router
	path   string
}

// NewServer mounts the PubSub REST surface under path (typically
// "/pubsub"): subscribers CRUD plus publish. repo is the Dispatch Queue
// Repository a registered set's queue is started against.
func NewServer(cfg *config.Runtime, path string, reg *subscription.Registry, repo *queue.Repository, disp *dispatcher.Dispatcher, logger zerolog.Logger) *Server {
	s := &Server{cfg: cfg, reg: reg, repo: repo, disp: disp, logger: logger, path: path}
	s.router = newRouter()
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

func (s *Server) Handler() http.Handler {
	return cors.Wrap(&s.cfg.CORS, nil, nil, s.router)
}

func (s *Server) routes() {
	p := s.path
	s.router.GET(p+"/subscribers", s.handleCombinedSet)
	s.router.POST(p+"/subscribers", s.handleRegister)
	s.router.GET(p+"/subscribers/:loc", s.handleGet)
	s.router.PUT(p+"/subscribers/:loc", s.handleReplace)
	s.router.DELETE(p+"/subscribers/:loc", s.handleDelete)
	s.router.POST(p+"/publish", s.handlePublish)
}

// accessKeyCookie builds the Access-key cookie spec §6 prescribes:
// "access-key=<value>; Path=/<pubsub-path>/subscribers/<loc>".
func (s *Server) accessKeyCookie(location, value string) *http.Cookie {
	return &http.Cookie{Name: "access-key", Value: value, Path: s.path + "/subscribers/" + location}
}

func (s *Server) handleCombinedSet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entries := dispatcher.ComputeCombinedSet(s.reg.List())
	writeJSON(w, http.StatusOK, entries)
}

type subscriptionDoc struct {
	Channels        []string                  `json:"channels"`
	ResourcePattern string                    `json:"resource-pattern,omitempty"`
	Recipients      []subscription.Recipient  `json:"recipients,omitempty"`
	ProxyURI        string                    `json:"proxy-uri,omitempty"`
	SetCookie       string                    `json:"set-cookie,omitempty"`
}

type setDoc struct {
	Location           string             `json:"location,omitempty"`
	OwnerURI            string             `json:"owner-uri"`
	Version              int                `json:"version"`
	MaxFailures           int                `json:"max-failures,omitempty"`
	MaxFailureDurationMS  int64              `json:"max-failure-duration-ms,omitempty"`
	Subscriptions         []subscriptionDoc  `json:"subscriptions"`
}

func toSet(d setDoc) subscription.Set {
	subs := make([]subscription.Subscription, len(d.Subscriptions))
	for i, sd := range d.Subscriptions {
		subs[i] = subscription.Subscription{
			ID:              xid.New().String(),
			Channels:        sd.Channels,
			ResourcePattern: sd.ResourcePattern,
			Recipients:      sd.Recipients,
			ProxyURI:        sd.ProxyURI,
			SetCookie:       sd.SetCookie,
		}
	}
	return subscription.Set{
		OwnerURI:           d.OwnerURI,
		Version:            d.Version,
		MaxFailures:        d.MaxFailures,
		MaxFailureDuration: msToDuration(d.MaxFailureDurationMS),
		Subscriptions:      subs,
	}
}

func fromSet(s subscription.Set) setDoc {
	subs := make([]subscriptionDoc, len(s.Subscriptions))
	for i, sub := range s.Subscriptions {
		subs[i] = subscriptionDoc{
			Channels:        sub.Channels,
			ResourcePattern: sub.ResourcePattern,
			Recipients:      sub.Recipients,
			ProxyURI:        sub.ProxyURI,
			SetCookie:       sub.SetCookie,
		}
	}
	return setDoc{
		Location:             s.Location,
		OwnerURI:             s.OwnerURI,
		Version:              s.Version,
		MaxFailures:          s.MaxFailures,
		MaxFailureDurationMS: durationToMS(s.MaxFailureDuration),
		Subscriptions:        subs,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var doc setDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		errs.HTTPError(w, errs.B().Code(errs.Input).Cause(err).Msg("malformed subscription-set document").Err())
		return
	}

	incoming := toSet(doc)
	stored, created, err := s.reg.Register(incoming, r.Header.Get(headerSetLocationKey), r.Header.Get(headerSetAccessKey))
	if err != nil {
		errs.HTTPError(w, err)
		return
	}

	if !created {
		w.Header().Set("Content-Location", s.path+"/subscribers/"+stored.Location)
		writeJSON(w, http.StatusConflict, fromSet(stored))
		return
	}

	s.startQueue(r, stored)
	w.Header().Set("Location", s.path+"/subscribers/"+stored.Location)
	w.Header().Set(headerSetAccessKey, stored.AccessKey)
	http.SetCookie(w, s.accessKeyCookie(stored.Location, stored.AccessKey))
	writeJSON(w, http.StatusCreated, fromSet(stored))
	s.disp.NotifyCombinedSetChanged(r.Context())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	loc := ps.ByName("loc")
	set, err := s.reg.Get(loc, accessKeyFrom(r))
	if err != nil {
		errs.HTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fromSet(set))
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	loc := ps.ByName("loc")
	var doc setDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		errs.HTTPError(w, errs.B().Code(errs.Input).Cause(err).Msg("malformed subscription-set document").Err())
		return
	}

	updated, err := s.reg.Replace(loc, accessKeyFrom(r), toSet(doc), r.Header.Get(headerSetAccessKey))
	if err != nil {
		errs.HTTPError(w, err)
		return
	}
	if rotated := r.Header.Get(headerSetAccessKey); rotated != "" {
		http.SetCookie(w, s.accessKeyCookie(updated.Location, updated.AccessKey))
	}
	writeJSON(w, http.StatusOK, fromSet(updated))
	s.disp.NotifyCombinedSetChanged(r.Context())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	loc := ps.ByName("loc")
	if err := s.reg.Delete(loc, accessKeyFrom(r)); err != nil {
		errs.HTTPError(w, err)
		return
	}
	if err := s.repo.Delete(loc); err != nil {
		s.logger.Warn().Err(err).Str("location", loc).Msg("failed to tear down queue for deleted set")
	}
	w.WriteHeader(http.StatusNoContent)
	s.disp.NotifyCombinedSetChanged(r.Context())
}

// handlePublish accepts a message whose headers declare the event
// envelope (spec §6 "POST publish — accept a message whose headers
// declare event-channel, event-origin, optional event-recipients");
// the body is the event payload, not a JSON envelope. Publishing
// directly onto a pubsub:// channel is reserved for internally
// generated combined-set update events (spec §4.4) and is rejected.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	channel := r.Header.Get(message.HeaderEventChannel)
	if channel == "" {
		errs.HTTPError(w, errs.B().Code(errs.Input).Msg("missing Event-Channel header").Err())
		return
	}
	if strings.HasPrefix(channel, "pubsub://") {
		errs.HTTPError(w, errs.B().Code(errs.Auth).Msg("publishing directly on a pubsub:// channel is not allowed").Err())
		return
	}

	eventID := r.Header.Get(message.HeaderEventID)
	if eventID == "" {
		eventID = xid.New().String()
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errs.HTTPError(w, errs.B().Code(errs.Input).Cause(err).Msg("could not read event body").Err())
		return
	}

	items, err := s.disp.Dispatch(r.Context(), dispatcher.Event{
		ID:          eventID,
		Channel:     channel,
		Recipients:  message.Header(r.Header).Values(message.HeaderEventRecipients),
		Via:         message.Header(r.Header).Values(message.HeaderEventVia),
		Origins:     message.Header(r.Header).Values(message.HeaderEventOrigin),
		ContentType: r.Header.Get(message.HeaderContentType),
		Body:        body,
	})
	if err != nil {
		errs.HTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": eventID, "matched": len(items)})
}

// startQueue ensures a freshly registered set's queue is running, so an
// event published immediately after registration has somewhere to go
// (spec §4.6 "Repository ... resumes each set's queue").
func (s *Server) startQueue(r *http.Request, set subscription.Set) {
	raw, err := json.Marshal(fromSet(set))
	if err != nil {
		s.logger.Warn().Err(err).Str("location", set.Location).Msg("failed to encode set descriptor")
		return
	}
	if _, err := s.repo.RegisterOrUpdate(r.Context(), set.Location, string(raw), s.disp.DequeueHandler); err != nil {
		s.logger.Warn().Err(err).Str("location", set.Location).Msg("failed to start queue for registered set")
	}
}

func accessKeyFrom(r *http.Request) string {
	if v := r.URL.Query().Get("access-key"); v != "" {
		return v
	}
	if c, err := r.Cookie("access-key"); err == nil {
		return c.Value
	}
	return r.Header.Get(headerSetAccessKey)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func msToDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func durationToMS(d time.Duration) int64 { return d.Milliseconds() }
