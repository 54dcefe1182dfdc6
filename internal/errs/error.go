// Package errs implements the request/pubsub error taxonomy: a closed set
// of error kinds that each carry their own HTTP surface. The pipeline's
// abort and cached-response sentinels are not error kinds here; they are
// pipeline results handled by dream/host/pipeline.
package errs

import (
	"net/http"
	"strings"
	"unsafe"

	jsoniter "github.com/json-iterator/go"

	"dream/internal/stack"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            false,
	ValidateJsonRawMessage: true,
}.Froze()

// Error is a structured error carrying a Code (and therefore an implied
// HTTP status), a human message, and metadata consumed internally but
// never serialized to a caller.
type Error struct {
	Code    Code     `json:"code"`
	Message string   `json:"message"`
	Meta    Metadata `json:"-"`

	underlying error
	stack      stack.Stack
}

// Metadata is arbitrary key-value data attached to an error for internal
// diagnostics. It never crosses a Plug invoke boundary.
type Metadata map[string]interface{}

// Wrap wraps err with an additional message, preserving its Code if err is
// already an *Error (otherwise the Code is Internal). A nil err returns nil.
func Wrap(err error, msg string, metaPairs ...interface{}) error {
	if err == nil {
		return nil
	}
	e := &Error{Code: Internal, Message: msg, underlying: err}
	if ee, ok := err.(*Error); ok {
		e.Code = ee.Code
		e.Meta = mergeMeta(ee.Meta, metaPairs)
		e.stack = ee.stack
	} else {
		e.Meta = mergeMeta(nil, metaPairs)
		e.stack = stack.Build(2)
	}
	return e
}

// Convert converts any error into an *Error, classifying unknown errors as
// Internal. A nil error converts to nil.
func Convert(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Code: Internal, Message: err.Error(), underlying: err, stack: stack.Build(2)}
}

// GetCode reports the Code carried by err, OK if err is nil, or Internal
// if err is not an *Error.
func GetCode(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Internal
}

// Meta reports the metadata attached to err, if any.
func Meta(err error) Metadata {
	if e, ok := err.(*Error); ok {
		return e.Meta
	}
	return nil
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.ErrorMessage()
}

// ErrorMessage joins this error's message with any wrapped messages.
func (e *Error) ErrorMessage() string {
	if e.underlying == nil {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Message)
	var next error = e.underlying
	for next != nil {
		var msg string
		if ee, ok := next.(*Error); ok {
			msg, next = ee.Message, ee.underlying
		} else {
			msg, next = next.Error(), nil
		}
		if b.Len() > 0 && msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.underlying }

// HTTPStatus reports the HTTP status err should be surfaced with. A nil
// error reports 200; a non-*Error reports 500.
func HTTPStatus(err error) int {
	return GetCode(err).HTTPStatus()
}

// HTTPError writes err to w as a JSON error body with the status computed
// from its Code.
func HTTPError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err == nil {
		w.WriteHeader(status)
		w.Write([]byte(`{"code":"ok","message":""}`))
		return
	}
	e := Convert(err).(*Error)
	data, mErr := json.Marshal(e)
	if mErr != nil {
		data, _ = json.Marshal(&Error{Code: e.Code, Message: e.Message})
	}
	w.WriteHeader(status)
	w.Write(data)
}

func mergeMeta(md Metadata, pairs []interface{}) Metadata {
	n := len(pairs)
	if n%2 != 0 {
		panic("got uneven number of metadata key-values")
	}
	if md == nil && n > 0 {
		md = make(Metadata, n/2)
	}
	for i := 0; i < n; i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("metadata key must be a string")
		}
		md[key] = pairs[i+1]
	}
	return md
}

func init() {
	jsoniter.RegisterTypeEncoderFunc("errs.Error", func(ptr unsafe.Pointer, stream *jsoniter.Stream) {
		e := (*Error)(ptr)
		stream.WriteObjectStart()
		stream.WriteObjectField("code")
		stream.WriteString(e.Code.String())
		stream.WriteMore()
		stream.WriteObjectField("message")
		stream.WriteString(e.ErrorMessage())
		stream.WriteObjectEnd()
	}, nil)
}
