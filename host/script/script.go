// Package script implements the Script DSL executed by the Host's
// POST /execute endpoint (spec §6): a small XML vocabulary of actions,
// pipes, and forks, each invoked through a Plug. There's no teacher
// analogue for this — it's a domain concept specific to the spec — so
// the execution driver borrows its shape from host/pipeline.Run: walk an
// ordered node list, thread a running document through it, and stop on
// first non-success inside a pipe.
package script

import (
	"context"
	"encoding/xml"
	"strings"

	"dream/internal/errs"
	"dream/message"
	"dream/plug"
	"dream/uri"
)

type Kind int

const (
	KindAction Kind = iota
	KindPipe
	KindFork
)

// HeaderPair is one <header name="…">value</header> entry.
type HeaderPair struct {
	Key   string
	Value string
}

// Node is one parsed script element.
type Node struct {
	Kind Kind
	ID   string

	Verb    string
	Path    string
	Headers []HeaderPair
	Body    string

	Children []*Node
}

// Result is a node's executed outcome, structurally mirroring Node so the
// reply can be rendered back as a script document.
type Result struct {
	ID       string
	Status   int
	Body     string
	Children []*Result
}

// Parse reads a <script> (or <config>, rewritten per spec §6) document
// into its Node tree.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, errs.B().Code(errs.Input).Cause(err).Msg("malformed script document").Err()
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "config":
			return rewriteConfig(dec, start)
		case "action", "pipe", "fork":
			return parseNode(dec, start)
		default:
			return parseContainer(dec, KindPipe, "")
		}
	}
}

// rewriteConfig wraps a <config> document's raw body as a single action
// POSTing to /host/services (spec §6: "Root <config> is rewritten into a
// <script> that POSTs to /host/services").
func rewriteConfig(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	body, err := captureRaw(dec, start)
	if err != nil {
		return nil, err
	}
	return &Node{
		Kind: KindAction,
		Verb: "POST",
		Path: "/host/services",
		Body: body,
	}, nil
}

func captureRaw(dec *xml.Decoder, start xml.StartElement) (string, error) {
	var b strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			b.WriteByte('<')
			b.WriteString(t.Name.Local)
			b.WriteByte('>')
		case xml.EndElement:
			depth--
			if depth > 0 {
				b.WriteString("</")
				b.WriteString(t.Name.Local)
				b.WriteByte('>')
			}
		case xml.CharData:
			b.Write(t)
		}
	}
	return b.String(), nil
}

func parseContainer(dec *xml.Decoder, kind Kind, id string) (*Node, error) {
	container := &Node{Kind: kind, ID: id}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseNode(dec, t)
			if err != nil {
				return nil, err
			}
			container.Children = append(container.Children, child)
		case xml.EndElement:
			return container, nil
		}
	}
}

func parseNode(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	id := attr(start, "ID")
	switch start.Name.Local {
	case "pipe":
		return parseContainer(dec, KindPipe, id)
	case "fork":
		return parseContainer(dec, KindFork, id)
	case "action":
		return parseAction(dec, start, id)
	default:
		// Unknown element: consume and ignore its subtree.
		if _, err := captureRaw(dec, start); err != nil {
			return nil, err
		}
		return &Node{Kind: KindAction, ID: id}, nil
	}
}

func parseAction(dec *xml.Decoder, start xml.StartElement, id string) (*Node, error) {
	node := &Node{
		Kind: KindAction,
		ID:   id,
		Verb: attr(start, "verb"),
		Path: attr(start, "path"),
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "header" {
				name := attr(t, "name")
				value, err := captureRaw(dec, t)
				if err != nil {
					return nil, err
				}
				node.Headers = append(node.Headers, HeaderPair{Key: name, Value: value})
				continue
			}
			if t.Name.Local == "body" {
				body, err := captureRaw(dec, t)
				if err != nil {
					return nil, err
				}
				node.Body = body
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return node, nil
}

func attr(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Run executes root against base, using transport for every action's
// invoke (spec §6). Pipe children feed each response into the next and
// stop at the first non-success; fork children run sequentially in this
// implementation (Open Question decision, see DESIGN.md) but the reply
// order matches registration order regardless of execution order.
func Run(ctx context.Context, root *Node, base uri.URI, transport plug.Transport) *Result {
	return run(ctx, root, base, transport, nil)
}

func run(ctx context.Context, n *Node, base uri.URI, transport plug.Transport, carried *message.Message) *Result {
	switch n.Kind {
	case KindAction:
		return runAction(ctx, n, base, transport, carried)
	case KindPipe:
		return runPipe(ctx, n, base, transport, carried)
	case KindFork:
		return runFork(ctx, n, base, transport, carried)
	default:
		return &Result{ID: n.ID}
	}
}

func runAction(ctx context.Context, n *Node, base uri.URI, transport plug.Transport, carried *message.Message) *Result {
	req := message.New()
	for _, h := range n.Headers {
		req.Header.Add(h.Key, h.Value)
	}
	body := n.Body
	if body == "" && carried != nil {
		data, _ := carried.Body.Document.(string)
		body = data
	}
	if body != "" {
		req.Body = message.Body{Stream: strings.NewReader(body), Length: int64(len(body))}
	}

	target := base
	if n.Path != "" {
		target = base.At(pathSegments(n.Path)...)
	}
	p := plug.New(target, transport)

	resp, err := p.Invoke(ctx, verbOrDefault(n.Verb), req)
	if err != nil {
		return &Result{ID: n.ID, Status: errs.HTTPStatus(err), Body: err.Error()}
	}
	return &Result{ID: n.ID, Status: resp.Status, Body: readAll(resp)}
}

func runPipe(ctx context.Context, n *Node, base uri.URI, transport plug.Transport, carried *message.Message) *Result {
	result := &Result{ID: n.ID}
	var last *message.Message = carried
	for _, child := range n.Children {
		r := run(ctx, child, base, transport, last)
		result.Children = append(result.Children, r)
		if !isSuccess(r.Status) {
			break
		}
		m := message.New()
		m.Status = r.Status
		m.Body.Document = r.Body
		last = m
	}
	return result
}

func runFork(ctx context.Context, n *Node, base uri.URI, transport plug.Transport, carried *message.Message) *Result {
	result := &Result{ID: n.ID}
	for _, child := range n.Children {
		result.Children = append(result.Children, run(ctx, child, base, transport, carried))
	}
	return result
}

func verbOrDefault(v string) string {
	if v == "" {
		return "GET"
	}
	return v
}

func isSuccess(status int) bool { return status == 0 || (status >= 200 && status < 300) }

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func readAll(resp *message.Message) string {
	if resp.Body.Stream == nil {
		return ""
	}
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Stream.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return b.String()
}
