// Package pipeline implements the Feature Pipeline: a feature's ordered
// stage list runs sequentially against one message, with short-circuit,
// exception translation, and access-level checks (spec §4.2). It is
// grounded on the continuation-chained middleware model in
// appruntime/apisdk/api/middleware.go — here expressed as a flat stage
// array instead of a next()-calling chain, since the pipeline's shape
// (default-prologues, service-prologues, main, service-epilogues,
// default-epilogues) is fixed at registration time rather than composed
// per-call.
package pipeline

import (
	"context"

	"dream/internal/errs"
	"dream/message"
)

// Access is the level a pipeline stage is gated at, or a caller is
// authenticated as. Levels are ordered: Public is the least privileged.
type Access int

const (
	Public Access = iota
	Internal
	Private
)

func ParseAccess(s string) Access {
	switch s {
	case "private":
		return Private
	case "internal":
		return Internal
	default:
		return Public
	}
}

func (a Access) String() string {
	switch a {
	case Private:
		return "private"
	case Internal:
		return "internal"
	default:
		return "public"
	}
}

// Kind distinguishes a stage's position in the pipeline, for the
// short-circuit rule ("main stage is skipped, epilogues always run").
type Kind int

const (
	KindPrologue Kind = iota
	KindMain
	KindEpilogue
)

// ResultKind distinguishes a normal stage outcome from the two sentinel
// outcomes a stage may return instead of an error (spec §4.2 and the
// redesign note in SPEC_FULL.md §4.9: these are pipeline results, not
// additional errs.Codes).
type ResultKind int

const (
	ResultNormal ResultKind = iota

	// ResultAbort carries a canned response forwarded verbatim, skipping
	// exception translation (but not subsequent stages — epilogues still
	// see it, same as any other in-flight message).
	ResultAbort

	// ResultCached bypasses every remaining stage, including epilogues,
	// and becomes the pipeline's return value immediately.
	ResultCached
)

// Result is what a Stage's function returns on success.
type Result struct {
	Kind     ResultKind
	Response *message.Message
}

// Normal wraps a message as an ordinary (non-sentinel) stage result.
func Normal(msg *message.Message) Result { return Result{Kind: ResultNormal, Response: msg} }

// Abort wraps a canned response as a ResultAbort.
func Abort(msg *message.Message) Result { return Result{Kind: ResultAbort, Response: msg} }

// Cached wraps a canned response as a ResultCached.
func Cached(msg *message.Message) Result { return Result{Kind: ResultCached, Response: msg} }

// StageFunc is a pipeline stage's behavior.
type StageFunc func(ctx context.Context, req *message.Message) (Result, error)

// Stage is one element of a feature's stage array. feature.Feature stores
// these as opaque feature.Stage values (interface{}); the pipeline
// package type-asserts them back at run time, keeping host/feature free
// of a dependency on host/pipeline.
type Stage struct {
	Kind   Kind
	Access Access
	Name   string // for diagnostics (status/features, error messages)
	Fn     StageFunc
}

// ExceptionTranslator converts an error raised by a stage into a
// response. It returns ok=false to decline, letting the next translator
// (or the default 500) handle it.
type ExceptionTranslator func(ctx context.Context, err error) (msg *message.Message, ok bool)

// Pipeline is a feature's fully assembled, ready-to-run stage list.
type Pipeline struct {
	Stages      []Stage
	MainIndex   int
	Translators []ExceptionTranslator
}

// Run executes p against req for a caller authenticated at callerAccess,
// and returns the final response message. It never returns an error: any
// stage failure becomes a response message (translated, or a generic 500
// if nothing claims it), per spec §4.2 — failures are reported through
// the Message, not through Run's error return.
func Run(ctx context.Context, p *Pipeline, callerAccess Access, req *message.Message) *message.Message {
	msg := req
	for i, stage := range p.Stages {
		if stage.Access > callerAccess {
			msg = forbidden(stage.Name)
			continue
		}
		if i == p.MainIndex && !msg.IsSuccess() {
			// A prior prologue already failed; the main stage is skipped
			// but later epilogues still run against the failure message.
			continue
		}

		result, err := stage.Fn(ctx, msg)
		if err != nil {
			msg = translate(ctx, p.Translators, err)
			continue
		}
		if result.Kind == ResultCached {
			return result.Response
		}
		msg = result.Response
	}
	return msg
}

func translate(ctx context.Context, translators []ExceptionTranslator, err error) *message.Message {
	// Auth errors are never handed to translators (see errs.Auth).
	if errs.GetCode(err) != errs.Auth {
		for _, t := range translators {
			if msg, ok := t(ctx, err); ok {
				return msg
			}
		}
	}
	e := errs.Convert(err)
	out := message.New()
	out.Status = errs.HTTPStatus(e)
	return out
}

func forbidden(stageName string) *message.Message {
	out := message.New()
	out.Status = errs.Auth.HTTPStatus()
	return out
}
