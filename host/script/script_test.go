package script

import (
	"context"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"dream/message"
	"dream/uri"
)

type stubTransport struct {
	calls []string
}

func (s *stubTransport) Invoke(ctx context.Context, target uri.URI, verb string, req *message.Message) (*message.Message, error) {
	s.calls = append(s.calls, verb+" "+target.Path())
	resp := message.New()
	resp.Status = 200
	resp.Body.Stream = strings.NewReader("ok")
	return resp, nil
}

func TestParseAction(t *testing.T) {
	c := qt.New(t)
	root, err := Parse([]byte(`<action ID="a1" verb="GET" path="/widgets"><header name="X-Foo">bar</header></action>`))
	c.Assert(err, qt.IsNil)
	c.Assert(root.Kind, qt.Equals, KindAction)
	c.Assert(root.ID, qt.Equals, "a1")
	c.Assert(root.Verb, qt.Equals, "GET")
	c.Assert(root.Path, qt.Equals, "/widgets")
	c.Assert(root.Headers, qt.DeepEquals, []HeaderPair{{Key: "X-Foo", Value: "bar"}})
}

func TestParsePipeReadsChildren(t *testing.T) {
	c := qt.New(t)
	root, err := Parse([]byte(`<pipe><action verb="GET" path="/a"/><action verb="GET" path="/b"/></pipe>`))
	c.Assert(err, qt.IsNil)
	c.Assert(root.Kind, qt.Equals, KindPipe)
	c.Assert(len(root.Children), qt.Equals, 2)
}

func TestRunActionInvokesTransport(t *testing.T) {
	c := qt.New(t)
	root, err := Parse([]byte(`<action verb="GET" path="/widgets"/>`))
	c.Assert(err, qt.IsNil)

	transport := &stubTransport{}
	result := Run(context.Background(), root, uri.MustParse("local://host"), transport)
	c.Assert(result.Status, qt.Equals, 200)
	c.Assert(result.Body, qt.Equals, "ok")
	c.Assert(transport.calls, qt.DeepEquals, []string{"GET /widgets"})
}

func TestRunForkRunsAllChildren(t *testing.T) {
	c := qt.New(t)
	root, err := Parse([]byte(`<fork><action ID="x" verb="GET" path="/a"/><action ID="y" verb="GET" path="/b"/></fork>`))
	c.Assert(err, qt.IsNil)

	transport := &stubTransport{}
	result := Run(context.Background(), root, uri.MustParse("local://host"), transport)
	c.Assert(len(result.Children), qt.Equals, 2)
	c.Assert(transport.calls, qt.DeepEquals, []string{"GET /a", "GET /b"})
}

func TestConfigRewriteToServicesPost(t *testing.T) {
	c := qt.New(t)
	root, err := Parse([]byte(`<config><path>/widgets</path></config>`))
	c.Assert(err, qt.IsNil)
	c.Assert(root.Kind, qt.Equals, KindAction)
	c.Assert(root.Verb, qt.Equals, "POST")
	c.Assert(root.Path, qt.Equals, "/host/services")
	c.Assert(root.Body, qt.Equals, "<path>/widgets</path>")
}
