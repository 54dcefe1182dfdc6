package pipeline

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"dream/host/reqtrack"
	"dream/message"
)

func withRequestURI(uri string) context.Context {
	tracker := reqtrack.New(zerolog.Nop())
	ctx, _ := tracker.BeginRequest(context.Background(), &reqtrack.Request{
		ID: "r1", URI: uri, StartTime: time.Now(),
	})
	return ctx
}

func TestDefaultPrologueParsesXPost(t *testing.T) {
	c := qt.New(t)
	ctx := withRequestURI("local://host/test?dream.in.format=xpost")
	req := message.New()
	req.Body.Stream = strings.NewReader("a=1&b=two")

	result, err := DefaultPrologue(ctx, req)
	c.Assert(err, qt.IsNil)

	doc, ok := result.Response.Body.Document.(*Doc)
	c.Assert(ok, qt.IsTrue)
	c.Assert(doc.XML(), qt.Equals, "<doc><a>1</a><b>two</b></doc>")
}

func TestDefaultEpilogueFormatsJSON(t *testing.T) {
	c := qt.New(t)
	ctx := withRequestURI("local://host/test?dream.out.format=json")
	doc := NewDoc("doc")
	doc.Append("a", "1")
	resp := message.New()
	resp.Body.Document = doc

	result, err := DefaultEpilogue(ctx, resp)
	c.Assert(err, qt.IsNil)

	data, _ := io.ReadAll(result.Response.Body.Stream)
	c.Assert(string(data), qt.Equals, `{"a":"1"}`)
	c.Assert(result.Response.Header.Get(message.HeaderContentType), qt.Equals, "application/json")
}

func TestDefaultEpilogueSelect(t *testing.T) {
	c := qt.New(t)
	ctx := withRequestURI("local://host/test?dream.out.format=xml&dream.out.select=a")
	doc := NewDoc("doc")
	doc.Append("a", "1")
	resp := message.New()
	resp.Body.Document = doc

	result, err := DefaultEpilogue(ctx, resp)
	c.Assert(err, qt.IsNil)
	data, _ := io.ReadAll(result.Response.Body.Stream)
	c.Assert(string(data), qt.Equals, "<a>1</a>")
}
