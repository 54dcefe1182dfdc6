package dispatcher

import (
	"bytes"
	"context"

	"dream/message"
	"dream/plug"
	"dream/uri"
)

// NewTransportDeliverFunc returns a DeliverFunc that POSTs an Event to
// its destination over transport (spec §4.5 "Dispatch: append each
// Item to the queue..."; delivery itself reuses the same Plug/Transport
// seam every other outbound invoke in this core goes through, local or
// remote).
func NewTransportDeliverFunc(transport plug.Transport) DeliverFunc {
	return func(ctx context.Context, destination string, ev Event, recipients []string) bool {
		target, err := uri.Parse(destination)
		if err != nil {
			return false
		}

		req := message.New()
		req.Header.Set(message.HeaderEventID, ev.ID)
		req.Header.Set(message.HeaderEventChannel, ev.Channel)
		for _, v := range ev.Via {
			req.Header.Add(message.HeaderEventVia, v)
		}
		for _, o := range ev.Origins {
			req.Header.Add(message.HeaderEventOrigin, o)
		}
		for _, rc := range recipients {
			req.Header.Add(message.HeaderEventRecipients, rc)
		}
		if len(ev.Body) > 0 {
			req.Body = message.Body{Stream: bytes.NewReader(ev.Body), Length: int64(len(ev.Body)), ContentType: ev.ContentType}
		}

		resp, err := transport.Invoke(ctx, target, "POST", req)
		return err == nil && resp != nil && resp.IsSuccess()
	}
}
