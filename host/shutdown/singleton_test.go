package shutdown

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"dream/config"
)

func TestNilTrackerHooksAreNoOps(t *testing.T) {
	var nilTracker *Tracker
	// Packages that grab dream/host/shutdown.Singleton before the Host has
	// assigned it (e.g. a package init() that runs ahead of cmd/dreamhost's
	// startup path) must not panic registering against a nil Tracker.
	nilTracker.OnShutdown(func(context.Context) {})
}

func TestSingletonAcceptsRegistrationBeforeShutdown(t *testing.T) {
	old := Singleton
	defer func() { Singleton = old }()

	cfg := &config.Runtime{EnvType: "test", EnvCloud: "local"}
	Singleton = NewTracker(cfg, zerolog.Nop())

	registered := false
	Singleton.OnShutdown(func(context.Context) { registered = true })
	_ = registered // hook only runs once Shutdown is triggered; not exercised here

	if Singleton.ShutdownInitiated() {
		t.Fatal("expected ShutdownInitiated to be false before any signal or call to Shutdown")
	}
}
