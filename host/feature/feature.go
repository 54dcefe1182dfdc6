// Package feature implements the Feature Directory: a trie of path
// segments mapping to the feature definitions that may handle a
// request, and the resolution algorithm that picks exactly one of them
// for a given (verb, URI) pair (spec §4.1).
package feature

import "sync/atomic"

// Stage is one step of a feature's pipeline: a prologue, the main
// handler, or an epilogue. The concrete signature lives in
// host/pipeline; Feature only needs to carry an opaque ordered list of
// them plus the index of the main stage.
type Stage interface{}

// Feature is a declared request handler within a service, keyed by
// (verb, path pattern) (spec Glossary).
type Feature struct {
	Service string // owning service's self-uri

	Verb     string   // exact verb, or "*" to match any verb
	Segments []string // declared path segments; "*" is a single-segment wildcard

	// OptionalSegments is the number of additional path segments beyond
	// len(Segments) this feature still matches (the "??" suffix, spec §4.2
	// default-prologue/epilogue note and §4.1 step 2).
	OptionalSegments int

	Access    string // public | internal | private, the main stage's level
	Stages    []Stage
	MainIndex int

	// Translators is the feature's ordered list of exception translators,
	// opaque here for the same reason Stages is: the concrete
	// pipeline.ExceptionTranslator type lives in host/pipeline, which
	// imports this package rather than the other way around.
	Translators []interface{}

	registrationOrder int
	hits              uint64
}

// Hit increments the feature's hit counter (status/features diagnostic).
func (f *Feature) Hit() { atomic.AddUint64(&f.hits, 1) }

// Hits reports the current hit count.
func (f *Feature) Hits() uint64 { return atomic.LoadUint64(&f.hits) }

// literalSegmentCount reports how many of Segments are literal (not the
// "*" wildcard), used to break resolution ties (spec §4.1 step 4).
func (f *Feature) literalSegmentCount() int {
	n := 0
	for _, s := range f.Segments {
		if s != "*" {
			n++
		}
	}
	return n
}
