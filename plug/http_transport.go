package plug

import (
	"bytes"
	"context"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"dream/internal/errs"
	"dream/message"
	"dream/uri"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPTransport invokes non-local Plug targets over real HTTP. It is the
// narrow adapter the spec's Non-goals refer to as "HTTP transport
// listeners ... consumed only through narrow adapters" — the listener
// side is out of scope, but an outbound client is exactly what a Plug
// needs to reach a remote recipient or another Host.
type HTTPTransport struct {
	Client *http.Client
}

func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: http.DefaultClient}
}

func (t *HTTPTransport) Invoke(ctx context.Context, target uri.URI, verb string, req *message.Message) (*message.Message, error) {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, errs.B().Code(errs.Input).Cause(err).Msg("could not encode outbound body").Err()
	}

	httpReq, err := http.NewRequestWithContext(ctx, verb, target.String(), body)
	if err != nil {
		return nil, errs.B().Code(errs.Internal).Cause(err).Msg("could not build outbound request").Err()
	}
	if req != nil {
		for key, values := range req.Header {
			for _, v := range values {
				httpReq.Header.Add(key, v)
			}
		}
		for _, c := range req.Cookies {
			httpReq.AddCookie(c)
		}
	}
	if contentType != "" {
		httpReq.Header.Set(message.HeaderContentType, contentType)
	}

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, errs.B().Code(errs.Internal).Cause(err).Msgf("invoke %s %s", verb, target).Err()
	}
	defer resp.Body.Close()

	out := message.New()
	out.Status = resp.StatusCode
	for key, values := range resp.Header {
		for _, v := range values {
			out.Header.Add(key, v)
		}
	}
	out.Cookies = resp.Cookies()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.B().Code(errs.Internal).Cause(err).Msg("could not read response body").Err()
	}
	out.Body = message.Body{Stream: bytes.NewReader(data), Length: int64(len(data)), ContentType: resp.Header.Get(message.HeaderContentType)}
	return out, nil
}

func encodeBody(req *message.Message) (io.Reader, string, error) {
	if req == nil {
		return nil, "", nil
	}
	switch {
	case req.Body.Stream != nil:
		return req.Body.Stream, req.Body.ContentType, nil
	case req.Body.IsDocument():
		data, err := json.Marshal(req.Body.Document)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	default:
		return nil, "", nil
	}
}
