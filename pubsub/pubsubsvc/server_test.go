package pubsubsvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"dream/config"
	"dream/pubsub/dispatcher"
	"dream/pubsub/queue"
	"dream/pubsub/subscription"
)

func newTestServer(t *testing.T) *Server {
	cfg := config.Default()
	cfg.GUID = "guid1"

	reg := subscription.NewRegistry()
	repo := queue.NewRepository(clock.NewMock(), queue.Config{Backend: "memory", BackoffStep: time.Millisecond, BackoffMaxMultiplier: 10})
	deliver := func(ctx context.Context, destination string, ev dispatcher.Event, recipients []string) bool { return true }
	disp := dispatcher.New("local://guid1/pubsub", reg, repo, deliver, zerolog.Nop())

	return NewServer(cfg, "/pubsub", reg, repo, disp, zerolog.Nop())
}

func TestRegisterThenGetSubscriberSet(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(t)

	body := `{"owner-uri":"local://guid1/widgets","subscriptions":[{"channels":["widgets/*/updated"],"recipients":[{"uri":"http://example.com/hook"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/pubsub/subscribers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusCreated)
	location := rec.Header().Get("Location")
	c.Assert(location, qt.Not(qt.Equals), "")

	getReq := httptest.NewRequest(http.MethodGet, location, nil)
	getRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(getRec, getReq)
	c.Assert(getRec.Code, qt.Equals, http.StatusForbidden) // no access-key presented

	accessKey := rec.Header().Get(headerSetAccessKey)
	getReq2 := httptest.NewRequest(http.MethodGet, location+"?access-key="+accessKey, nil)
	getRec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(getRec2, getReq2)
	c.Assert(getRec2.Code, qt.Equals, http.StatusOK)
	c.Assert(getRec2.Body.String(), qt.Contains, "widgets")
}

func TestRegisterSameOwnerConflicts(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(t)

	body := `{"owner-uri":"local://guid1/widgets","subscriptions":[]}`
	req := httptest.NewRequest(http.MethodPost, "/pubsub/subscribers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusCreated)

	req2 := httptest.NewRequest(http.MethodPost, "/pubsub/subscribers", strings.NewReader(body))
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req2)
	c.Assert(rec2.Code, qt.Equals, http.StatusConflict)
	c.Assert(rec2.Header().Get("Content-Location"), qt.Not(qt.Equals), "")
}

func TestPublishRejectsPubsubChannel(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/pubsub/publish", strings.NewReader("payload"))
	req.Header.Set("Event-Channel", "pubsub://guid1/set/update")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusForbidden)
}

func TestPublishMatchesSubscriber(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(t)

	regBody := `{"owner-uri":"local://guid1/widgets","subscriptions":[{"channels":["widgets/*/updated"],"recipients":[{"uri":"http://example.com/hook"}]}]}`
	regReq := httptest.NewRequest(http.MethodPost, "/pubsub/subscribers", strings.NewReader(regBody))
	regRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(regRec, regReq)
	c.Assert(regRec.Code, qt.Equals, http.StatusCreated)

	pubReq := httptest.NewRequest(http.MethodPost, "/pubsub/publish", strings.NewReader("payload"))
	pubReq.Header.Set("Event-Channel", "widgets/42/updated")
	pubRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(pubRec, pubReq)
	c.Assert(pubRec.Code, qt.Equals, http.StatusAccepted)
	c.Assert(pubRec.Body.String(), qt.Contains, `"matched":1`)
}
