package feature

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"dream/internal/errs"
)

func mkFeature(verb string, segments []string, optional int) *Feature {
	return &Feature{Verb: verb, Segments: segments, OptionalSegments: optional}
}

func TestResolveLiteralExactMatch(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	f := mkFeature("GET", []string{"foo", "bar"}, 0)
	d.Register(f)

	got, err := d.Resolve([]string{"foo", "bar"}, "GET")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, f)
}

func TestResolvePrefersLiteralOverWildcard(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	wild := mkFeature("GET", []string{"foo", "*"}, 0)
	lit := mkFeature("GET", []string{"foo", "bar"}, 0)
	d.Register(wild)
	d.Register(lit)

	got, err := d.Resolve([]string{"foo", "bar"}, "GET")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, lit)

	got, err = d.Resolve([]string{"foo", "baz"}, "GET")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, wild)
}

func TestResolveOptionalSegments(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	f := mkFeature("GET", []string{"foo"}, 2)
	d.Register(f)

	got, err := d.Resolve([]string{"foo", "a", "b"}, "GET")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, f)

	_, err = d.Resolve([]string{"foo", "a", "b", "c"}, "GET")
	c.Assert(errs.GetCode(err), qt.Equals, errs.NotFound)
}

func TestResolveNotFound(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	d.Register(mkFeature("GET", []string{"foo"}, 0))

	_, err := d.Resolve([]string{"bar"}, "GET")
	c.Assert(errs.GetCode(err), qt.Equals, errs.NotFound)
}

func TestResolveMethodNotAllowed(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	d.Register(mkFeature("GET", []string{"foo"}, 0))
	d.Register(mkFeature("POST", []string{"foo"}, 0))

	_, err := d.Resolve([]string{"foo"}, "DELETE")
	c.Assert(errs.GetCode(err), qt.Equals, errs.MethodNotAllowed)

	e, ok := err.(*errs.Error)
	c.Assert(ok, qt.IsTrue)
	allowed, _ := e.Meta["allowed"].([]string)
	c.Assert(allowed, qt.DeepEquals, []string{"GET", "POST"})
}

func TestResolveHeadFallsBackToGet(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	f := mkFeature("GET", []string{"foo"}, 0)
	d.Register(f)

	got, err := d.Resolve([]string{"foo"}, "HEAD")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, f)
}

func TestResolveWildcardVerbMatchesAny(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	f := mkFeature("*", []string{"foo"}, 0)
	d.Register(f)

	got, err := d.Resolve([]string{"foo"}, "DELETE")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, f)
}

func TestResolveTieBreaksByRegistrationOrder(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	first := mkFeature("GET", []string{"foo", "*"}, 1)
	second := mkFeature("GET", []string{"foo", "*"}, 1)
	d.Register(first)
	d.Register(second)

	got, err := d.Resolve([]string{"foo", "a"}, "GET")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, first)
}

func TestAllowedVerbsIgnoresVerb(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	d.Register(mkFeature("GET", []string{"foo"}, 0))
	d.Register(mkFeature("PUT", []string{"foo"}, 0))
	d.Register(mkFeature("*", []string{"foo", "*"}, 0))

	c.Assert(d.AllowedVerbs([]string{"foo"}), qt.DeepEquals, []string{"GET", "PUT"})
}

func TestUnregisterRemovesServiceFeatures(t *testing.T) {
	c := qt.New(t)
	d := NewDirectory()
	f := mkFeature("GET", []string{"foo"}, 0)
	f.Service = "svc-a"
	d.Register(f)

	d.Unregister("svc-a")

	_, err := d.Resolve([]string{"foo"}, "GET")
	c.Assert(errs.GetCode(err), qt.Equals, errs.NotFound)
}
