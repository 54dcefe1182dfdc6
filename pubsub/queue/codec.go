package queue

import (
	"encoding/binary"
	"fmt"
	"io"
)

// encodeItem writes one versioned binary record: a version byte
// followed by length-prefixed fields in the fixed order spec §4.6 lists
// ({version-byte, dest-uri, location, event-id, event-channel,
// event-resource, origins*, recipients*, via*, content-type,
// body-bytes}). Serialization round-trips losslessly: decodeItem undoes
// exactly this layout.
func encodeItem(w io.Writer, item Item) error {
	bw := &byteCountWriter{w: w}
	if err := writeByte(bw, recordVersion); err != nil {
		return err
	}
	for _, s := range []string{item.Destination, item.SetLocation, item.EventID, item.EventChannel, item.EventResource} {
		if err := writeString(bw, s); err != nil {
			return err
		}
	}
	for _, list := range [][]string{item.Origins, item.Recipients, item.Via} {
		if err := writeStringSlice(bw, list); err != nil {
			return err
		}
	}
	if err := writeString(bw, item.ContentType); err != nil {
		return err
	}
	return writeBytes(bw, item.Body)
}

func decodeItem(r io.Reader) (Item, error) {
	var item Item
	version, err := readByte(r)
	if err != nil {
		return item, err // io.EOF surfaces here at a clean record boundary
	}
	if version != recordVersion {
		return item, fmt.Errorf("queue: unsupported record version %d", version)
	}

	strs := make([]string, 5)
	for i := range strs {
		s, err := readString(r)
		if err != nil {
			return item, err
		}
		strs[i] = s
	}
	item.Destination, item.SetLocation, item.EventID, item.EventChannel, item.EventResource = strs[0], strs[1], strs[2], strs[3], strs[4]

	if item.Origins, err = readStringSlice(r); err != nil {
		return item, err
	}
	if item.Recipients, err = readStringSlice(r); err != nil {
		return item, err
	}
	if item.Via, err = readStringSlice(r); err != nil {
		return item, err
	}
	if item.ContentType, err = readString(r); err != nil {
		return item, err
	}
	if item.Body, err = readBytes(r); err != nil {
		return item, err
	}
	return item, nil
}

type byteCountWriter struct{ w io.Writer }

func (b *byteCountWriter) Write(p []byte) (int, error) { return b.w.Write(p) }

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeBytes(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeString(w io.Writer, s string) error { return writeBytes(w, []byte(s)) }

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeStringSlice(w io.Writer, list []string) error {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(list)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return err
	}
	for _, s := range list {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStringSlice(r io.Reader) ([]string, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(countBuf[:])
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
