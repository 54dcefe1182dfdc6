package host

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"dream/config"
	"dream/host/diagnostics"
	"dream/host/reqtrack"
	"dream/host/shutdown"
	"dream/internal/errs"
	"dream/service"
	"dream/uri"
)

type stubService struct {
	bp      service.Blueprint
	stopped bool
}

func (s *stubService) Blueprint() service.Blueprint                          { return s.bp }
func (s *stubService) Start(ctx context.Context, cfg *config.Runtime) error  { return nil }
func (s *stubService) Stop(ctx context.Context) error                       { s.stopped = true; return nil }

func newTestHost(t *testing.T) *Host {
	cfg := config.Default()
	cfg.ConnectLimit = 2
	cfg.ReentrancyLimit = 2

	healthChecks := diagnostics.NewRegistry()
	activator := service.ActivatorFunc(func(class string) (service.Service, error) {
		return &stubService{bp: service.Blueprint{
			Class: class,
			Features: []service.FeatureDecl{
				{Verb: "GET", Path: "/widgets", Access: "public"},
			},
		}}, nil
	})
	mgr := service.NewManager(activator, healthChecks, zerolog.Nop())
	rt := reqtrack.New(zerolog.Nop())
	sh := shutdown.NewTracker(cfg, zerolog.Nop())

	return New(cfg, "guid-1", mgr, sh, healthChecks, rt)
}

func TestAdmitBypassesSemaphoreForLocal(t *testing.T) {
	c := qt.New(t)
	h := newTestHost(t)
	target := uri.MustParse("local://guid-1/foo")

	for i := 0; i < 10; i++ {
		release, err := h.Admit(context.Background(), target)
		c.Assert(err, qt.IsNil)
		release()
	}
}

func TestBeginHopEnforcesReentrancyLimit(t *testing.T) {
	c := qt.New(t)
	h := newTestHost(t)

	r1, err := h.BeginHop("req-1", "local://guid-1/a")
	c.Assert(err, qt.IsNil)
	r2, err := h.BeginHop("req-1", "local://guid-1/b")
	c.Assert(err, qt.IsNil)

	_, err = h.BeginHop("req-1", "local://guid-1/c")
	c.Assert(errs.GetCode(err), qt.Equals, errs.Reentrancy)

	r1()
	_, err = h.BeginHop("req-1", "local://guid-1/c")
	c.Assert(err, qt.IsNil)
	r2()
}

func TestRememberAliasRespectsConfig(t *testing.T) {
	c := qt.New(t)
	h := newTestHost(t)

	h.RememberAlias("https://public.example/foo", "local://guid-1/foo")
	local, ok := h.ResolveAlias("https://public.example/foo")
	c.Assert(ok, qt.IsTrue)
	c.Assert(local, qt.Equals, "local://guid-1/foo")

	h.cfg.MemorizeAliases = false
	h.RememberAlias("https://public.example/bar", "local://guid-1/bar")
	_, ok = h.ResolveAlias("https://public.example/bar")
	c.Assert(ok, qt.IsFalse)
}

func TestCreateServiceInstallsFeaturesAndStopRemovesThem(t *testing.T) {
	c := qt.New(t)
	h := newTestHost(t)

	_, err := h.CreateService(context.Background(), "local://guid-1/widgets", "", "widgets")
	c.Assert(err, qt.IsNil)

	_, err = h.Directory.Resolve([]string{"widgets"}, "GET")
	c.Assert(err, qt.IsNil)

	c.Assert(h.StopService(context.Background(), "local://guid-1/widgets"), qt.IsNil)

	_, err = h.Directory.Resolve([]string{"widgets"}, "GET")
	c.Assert(errs.GetCode(err), qt.Equals, errs.NotFound)
}

func TestRewriteToLocalPreservesPathAndQuery(t *testing.T) {
	c := qt.New(t)
	h := newTestHost(t)

	incoming := uri.MustParse("https://public.example/widgets/7?format=json")
	local, err := h.RewriteToLocal(incoming)
	c.Assert(err, qt.IsNil)
	c.Assert(local.Scheme(), qt.Equals, "local")
	c.Assert(local.Host(), qt.Equals, "guid-1")
	c.Assert(local.Path(), qt.Equals, "/widgets/7")
	v, _ := local.QueryValue("format")
	c.Assert(v, qt.Equals, "json")
}
