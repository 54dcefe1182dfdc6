package dispatcher

import "testing"

func TestMatchPatternSingleSegmentWildcard(t *testing.T) {
	cases := []struct {
		pattern, channel string
		want             bool
	}{
		{"pubsub://guid1/set/update", "pubsub://guid1/set/update", true},
		{"pubsub://*/set/update", "pubsub://guid1/set/update", true},
		{"pubsub://*/set/update", "pubsub://guid1/other/update", false},
		{"pubsub://*/*", "pubsub://guid1/set/update", false},
		{"pubsub://*/**", "pubsub://guid1/set/update", true},
		{"pubsub://*/**", "pubsub://guid1/a/b/c", true},
		{"widgets/*/comments", "widgets/42/comments", true},
		{"widgets/*/comments", "widgets/42/comments/extra", false},
		// spec §8 invariant 8, literal example.
		{"channel:///foo/*", "channel:///foo/bar", true},
		{"channel:///foo/*", "channel:///foo/baz", true},
		{"channel:///foo/*", "channel:///foo/bar/qux", false},
		{"channel:///foo/*/qux", "channel:///foo/bar/qux", true},
	}
	for _, c := range cases {
		if got := matchPattern(c.pattern, c.channel); got != c.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", c.pattern, c.channel, got, c.want)
		}
	}
}

func TestIsDescendantOrEqual(t *testing.T) {
	if !isDescendantOrEqual("local://guid/a", "local://guid/a") {
		t.Error("expected equal URIs to match")
	}
	if !isDescendantOrEqual("local://guid/a", "local://guid/a/b") {
		t.Error("expected descendant to match")
	}
	if isDescendantOrEqual("local://guid/a", "local://guid/b") {
		t.Error("expected unrelated URI not to match")
	}
}
