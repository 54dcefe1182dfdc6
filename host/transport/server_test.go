package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"dream/config"
	"dream/host"
	"dream/host/diagnostics"
	"dream/host/pipeline"
	"dream/host/reqtrack"
	"dream/host/shutdown"
	"dream/message"
	"dream/service"
)

type widgetsService struct{}

func (widgetsService) Blueprint() service.Blueprint {
	listWidgets := pipeline.Stage{
		Kind:   pipeline.KindMain,
		Access: pipeline.Public,
		Name:   "widgets.list",
		Fn: func(ctx context.Context, req *message.Message) (pipeline.Result, error) {
			resp := message.New()
			resp.Status = 200
			resp.Body.Document = "widgets"
			return pipeline.Normal(resp), nil
		},
	}
	return service.Blueprint{
		Class: "widgets",
		Features: []service.FeatureDecl{
			{Verb: "GET", Path: "/widgets", Access: "public", Stages: []interface{}{listWidgets}, MainIndex: 0},
		},
	}
}
func (widgetsService) Start(ctx context.Context, cfg *config.Runtime) error { return nil }
func (widgetsService) Stop(ctx context.Context) error                      { return nil }

func newTestServer(t *testing.T) *Server {
	cfg := config.Default()
	cfg.GUID = "guid-1"
	cfg.APIKey = "secret"

	healthChecks := diagnostics.NewRegistry()
	activator := service.ActivatorFunc(func(class string) (service.Service, error) {
		return widgetsService{}, nil
	})
	mgr := service.NewManager(activator, healthChecks, zerolog.Nop())
	rt := reqtrack.New(zerolog.Nop())
	sh := shutdown.NewTracker(cfg, zerolog.Nop())

	h := host.New(cfg, cfg.GUID, mgr, sh, healthChecks, rt)
	return NewServer(cfg, h, zerolog.Nop())
}

func TestCreateServiceRequiresAPIKey(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/host/services", strings.NewReader(`{"path":"local://guid-1/widgets","class":"widgets"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusForbidden)
}

func TestCreateAndListServices(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/host/services?apikey=secret", strings.NewReader(`{"path":"local://guid-1/widgets","class":"widgets"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusCreated)

	req = httptest.NewRequest(http.MethodGet, "/host/services", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(rec.Body.String(), qt.Contains, "widgets")
}

func TestStatusReportsHealthy(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/host/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(rec.Body.String(), qt.Contains, `"healthy":true`)
}

func TestExecuteRunsActionAgainstLocalFeature(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(t)

	create := httptest.NewRequest(http.MethodPost, "/host/services?apikey=secret", strings.NewReader(`{"path":"local://guid-1/widgets","class":"widgets"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, create)
	c.Assert(rec.Code, qt.Equals, http.StatusCreated)

	script := `<action ID="a1" verb="GET" path="/widgets"/>`
	req := httptest.NewRequest(http.MethodPost, "/host/execute?apikey=secret", strings.NewReader(script))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(rec.Body.String(), qt.Contains, `ID="a1"`)
	c.Assert(rec.Body.String(), qt.Contains, `status="200"`)
}
