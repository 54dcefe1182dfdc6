package subscription

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"dream/internal/errs"
)

func TestRegisterAssignsLocationAndKey(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()

	set, created, err := r.Register(Set{OwnerURI: "local://guid/a"}, "", "")
	c.Assert(err, qt.IsNil)
	c.Assert(created, qt.IsTrue)
	c.Assert(set.Location, qt.Not(qt.Equals), "")
	c.Assert(set.AccessKey, qt.Not(qt.Equals), "")
}

func TestRegisterSameOwnerReturnsExisting(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()

	first, _, err := r.Register(Set{OwnerURI: "local://guid/a"}, "", "")
	c.Assert(err, qt.IsNil)

	second, created, err := r.Register(Set{OwnerURI: "local://guid/a"}, "loc2", "key2")
	c.Assert(err, qt.IsNil)
	c.Assert(created, qt.IsFalse)
	c.Assert(second.Location, qt.Equals, first.Location)
	c.Assert(second.AccessKey, qt.Equals, first.AccessKey)
}

func TestGetRejectsWrongAccessKey(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	set, _, _ := r.Register(Set{OwnerURI: "local://guid/a"}, "", "")

	_, err := r.Get(set.Location, "wrong")
	c.Assert(errs.GetCode(err), qt.Equals, errs.Auth)

	got, err := r.Get(set.Location, set.AccessKey)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Location, qt.Equals, set.Location)
}

func TestReplaceRejectsStaleVersion(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	set, _, _ := r.Register(Set{OwnerURI: "local://guid/a", Version: 5}, "", "")

	_, err := r.Replace(set.Location, set.AccessKey, Set{OwnerURI: "local://guid/a", Version: 3}, "")
	c.Assert(errs.GetCode(err), qt.Equals, errs.VersionStale)

	updated, err := r.Replace(set.Location, set.AccessKey, Set{OwnerURI: "local://guid/a", Version: 6}, "")
	c.Assert(err, qt.IsNil)
	c.Assert(updated.Version, qt.Equals, 6)
}

func TestReplaceRejectsOwnerMismatch(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	set, _, _ := r.Register(Set{OwnerURI: "local://guid/a"}, "", "")

	_, err := r.Replace(set.Location, set.AccessKey, Set{OwnerURI: "local://guid/b"}, "")
	c.Assert(errs.GetCode(err), qt.Equals, errs.Auth)
}

func TestDeleteRemovesSetAndFreesOwner(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry()
	set, _, _ := r.Register(Set{OwnerURI: "local://guid/a"}, "", "")

	c.Assert(r.Delete(set.Location, set.AccessKey), qt.IsNil)

	_, err := r.Get(set.Location, set.AccessKey)
	c.Assert(errs.GetCode(err), qt.Equals, errs.NotFound)

	again, created, err := r.Register(Set{OwnerURI: "local://guid/a"}, "", "")
	c.Assert(err, qt.IsNil)
	c.Assert(created, qt.IsTrue)
	c.Assert(again.Location, qt.Not(qt.Equals), set.Location)
}
