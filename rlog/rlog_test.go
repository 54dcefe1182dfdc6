package rlog

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"dream/host/reqtrack"
)

func TestReservedKey(t *testing.T) {
	testCases := []struct {
		Key  string
		Want string
	}{
		{
			Key: "key",
			Want: `{"level":"info","key":"value"}
`,
		},
		{
			Key: "dream_key",
			Want: `{"level":"info","x_dream_key":"value"}
`,
		},
		{
			Key: "dreamkey",
			Want: `{"level":"info","dreamkey":"value"}
`,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Key, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			ev := logger.Info()
			addEventEntry(ev, testCase.Key, "value")
			ev.Send()
			actual := buf.String()
			if actual != testCase.Want {
				t.Fatalf("\nwant:\n\t%q\ngot:\n\t%q\n", testCase.Want, actual)
			}
		})
	}
}

func TestPackageLevelHelpersAreNoOpsWithoutSingleton(t *testing.T) {
	old := Singleton
	Singleton = nil
	defer func() { Singleton = old }()

	// None of these may panic with no Manager installed (e.g. a package
	// test that never runs cmd/dreamhost's startup path).
	Debug(context.Background(), "debug")
	Info(context.Background(), "info")
	Warn(context.Background(), "warn")
	Error(context.Background(), "error")
	With("k", "v").Info(context.Background(), "chained")
}

func TestPackageLevelHelpersLogThroughSingleton(t *testing.T) {
	old := Singleton
	defer func() { Singleton = old }()

	var buf bytes.Buffer
	rt := reqtrack.New(zerolog.New(&buf))
	Singleton = NewManager(rt)

	Info(context.Background(), "hello", "k", "v")
	With("extra", "field").Info(context.Background(), "world")

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("missing expected fields in log output: %q", out)
	}
	if !strings.Contains(out, `"msg":"world"`) || !strings.Contains(out, `"extra":"field"`) {
		t.Fatalf("missing chained field in log output: %q", out)
	}
}
