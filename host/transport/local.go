// Package transport implements the two faces a Host exposes: the
// LocalTransport a Plug uses for an in-process local:// invoke, and the
// HTTP REST surface (spec §6) that exposes the Host's own lifecycle
// operations (blueprints, services, execute, convert, status) to the
// outside world. It is grounded on
// appruntime/apisdk/api/server.go's Server, which plays the same dual
// role: an in-process handler dispatch plus an httprouter-based HTTP
// frontend.
package transport

import (
	"context"

	"dream/host/feature"
	"dream/host/pipeline"
	"dream/host/reqtrack"
	"dream/internal/errs"
	"dream/message"
	"dream/rlog"
	"dream/uri"
)

// LocalTransport resolves a local:// target against a Feature Directory
// and runs its pipeline in-process, with no network round trip (spec
// §4.1, §4.3 "internally originated requests ... resolved directly
// against the directory").
type LocalTransport struct {
	Directory *feature.Directory
	Reqtrack  *reqtrack.RequestTracker
}

func NewLocalTransport(dir *feature.Directory, rt *reqtrack.RequestTracker) *LocalTransport {
	return &LocalTransport{Directory: dir, Reqtrack: rt}
}

// Invoke resolves target's path and verb against the directory and runs
// the matched feature's pipeline. The caller's access level is derived
// from req's header pair set by the caller (an internal/private key
// check happens in the Service-provided prologue, not here); a bare
// local invoke with no elevated key runs at Public.
func (t *LocalTransport) Invoke(ctx context.Context, target uri.URI, verb string, req *message.Message) (*message.Message, error) {
	f, err := t.Directory.Resolve(target.Segments(), verb)
	if err != nil {
		out := message.New()
		out.Status = errs.HTTPStatus(err)
		if e, ok := err.(*errs.Error); ok && e.Code == errs.MethodNotAllowed {
			if allowed, ok := e.Meta["allowed"]; ok {
				if vs, ok := allowed.([]string); ok {
					for _, v := range vs {
						out.Header.Add("Allow", v)
					}
				}
			}
		}
		return out, nil
	}

	access := CallerAccess(req)
	p := pipeline.FromFeature(f)

	ctx, _ = t.Reqtrack.BeginRequest(ctx, &reqtrack.Request{URI: target.String()})
	rlog.Debug(ctx, "dispatching request", "uri", target.String(), "verb", verb)

	resp := pipeline.Run(ctx, p, access, req)
	rlog.Debug(ctx, "request handled", "uri", target.String(), "status", resp.Status)
	return resp, nil
}

// CallerAccess derives a caller's access level from the X-Internal-Key /
// X-Private-Key headers carried on the request (spec §4.2 "Access"). The
// actual key comparison against a service's AccessKeys happens in a
// service-supplied prologue stage, since only the owning service knows
// its own keys; this only reports the level a claimed key asserts.
func CallerAccess(req *message.Message) pipeline.Access {
	if req == nil {
		return pipeline.Public
	}
	if req.Header.Get("X-Private-Key") != "" {
		return pipeline.Private
	}
	if req.Header.Get("X-Internal-Key") != "" {
		return pipeline.Internal
	}
	return pipeline.Public
}
