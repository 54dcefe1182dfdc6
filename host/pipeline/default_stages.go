package pipeline

import (
	"context"
	"encoding/base64"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"dream/host/reqtrack"
	"dream/internal/errs"
	"dream/message"
	"dream/uri"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	queryInFormat  = "dream.in.format"
	queryOutFormat = "dream.out.format"
	queryOutSelect = "dream.out.select"
	queryOutSaveAs = "dream.out.saveas"
)

// DefaultPrologue parses the request body according to dream.in.format
// into a Doc tree, installed as the Message's Body.Document (spec §4.2).
func DefaultPrologue(ctx context.Context, req *message.Message) (Result, error) {
	format, _ := queryParam(ctx, queryInFormat)
	if format == "" {
		return Normal(req), nil
	}

	data, err := bodyBytes(req)
	if err != nil {
		return Result{}, errs.B().Code(errs.Input).Cause(err).Msg("could not read request body").Err()
	}

	doc, err := parseInput(format, data)
	if err != nil {
		return Result{}, errs.B().Code(errs.Input).Cause(err).Msgf("could not parse %s body", format).Err()
	}

	out := req.Clone()
	out.Body = message.Body{Document: doc, ContentType: req.Body.ContentType}
	return Normal(out), nil
}

// DefaultEpilogue applies dream.out.select and dream.out.format to the
// outgoing response (spec §4.2) and sets Content-Type to the rendered
// format's type when the response has none. It reads no content-type
// override parameter: a Content-Type already on the response is kept. Save-as
// disposition (forcing a Content-Disposition header) is handled here too
// since it's purely a header derived from the same query parameters.
func DefaultEpilogue(ctx context.Context, resp *message.Message) (Result, error) {
	doc, ok := resp.Body.Document.(*Doc)
	if !ok {
		return Normal(resp), nil
	}

	if sel, ok := queryParam(ctx, queryOutSelect); ok && sel != "" {
		if selected := doc.Select(sel); selected != nil {
			doc = selected
		}
	}

	format, _ := queryParam(ctx, queryOutFormat)
	if format == "" {
		format = "json"
	}

	body, contentType, err := renderOutput(format, doc)
	if err != nil {
		return Result{}, errs.B().Code(errs.Input).Cause(err).Msgf("could not render %s output", format).Err()
	}

	out := resp.Clone()
	out.Body = message.Body{Stream: strings.NewReader(body), Length: int64(len(body)), ContentType: contentType}
	if out.Header.Get(message.HeaderContentType) == "" {
		out.Header.Set(message.HeaderContentType, contentType)
	}
	if saveAs, ok := queryParam(ctx, queryOutSaveAs); ok && saveAs != "" {
		out.Header.Set("Content-Disposition", `attachment; filename="`+saveAs+`"`)
	}
	return Normal(out), nil
}

func queryParam(ctx context.Context, key string) (string, bool) {
	req, ok := reqtrack.FromContext(ctx)
	if !ok || req.URI == "" {
		return "", false
	}
	u, err := uri.Parse(req.URI)
	if err != nil {
		return "", false
	}
	return u.QueryValue(key)
}

func bodyBytes(req *message.Message) ([]byte, error) {
	if req.Body.Stream == nil {
		return nil, nil
	}
	return io.ReadAll(req.Body.Stream)
}

// parseInput converts a raw body into a Doc tree per dream.in.format.
// xpost and xml are fully supported; the legacy MindTouch display
// formats (versit, html, xhtml, xspan) have no independent structure of
// their own beyond a document fragment, so they're wrapped as a single
// opaque text leaf rather than parsed field-by-field.
func parseInput(format string, data []byte) (*Doc, error) {
	switch format {
	case "xpost":
		return parseXPost(data), nil
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, err
		}
		doc := NewDoc("doc")
		doc.Text = string(decoded)
		return doc, nil
	case "xml":
		return parseSimpleXML(data)
	case "versit", "html", "xhtml", "xspan":
		doc := NewDoc("doc")
		doc.Text = string(data)
		return doc, nil
	default:
		return nil, errs.B().Code(errs.Input).Msgf("unknown input format %q", format).Err()
	}
}

func parseXPost(data []byte) *Doc {
	doc := NewDoc("doc")
	for _, pair := range strings.Split(string(data), "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = unescapeForm(key)
		value = unescapeForm(value)
		doc.Append(key, value)
	}
	return doc
}

func unescapeForm(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	return s
}

// renderOutput serializes doc per dream.out.format.
func renderOutput(format string, doc *Doc) (body string, contentType string, err error) {
	switch format {
	case "json":
		data, err := json.Marshal(doc.ToMap())
		if err != nil {
			return "", "", err
		}
		return string(data), "application/json", nil
	case "jsonp":
		data, err := json.Marshal(doc.ToMap())
		if err != nil {
			return "", "", err
		}
		return "callback(" + string(data) + ")", "application/javascript", nil
	case "xml", "xhtml", "xspan":
		return doc.XML(), "application/xml", nil
	case "php":
		return phpSerialize(doc.ToMap()), "application/vnd.php.serialized", nil
	case "versit":
		return doc.Text, "text/x-vcard", nil
	default:
		return "", "", errs.B().Code(errs.Input).Msgf("unknown output format %q", format).Err()
	}
}
