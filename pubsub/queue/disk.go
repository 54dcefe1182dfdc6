package queue

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// recordVersion is the only version this core knows how to decode.
// Version mismatch on read must fail fast (spec §4.6).
const recordVersion = 1

// Disk is the persistent queue variant: each item is appended to a
// per-set log file as a versioned binary record, with a companion index
// file holding the head position as a count of delivered items. On open
// the whole log is decoded into memory and delivery resumes at that head,
// so delivered items are not sent again; the index holds no byte offsets
// and no tail position (spec §4.6 "Persistent variant").
type Disk struct {
	clock clock.Clock

	backoffStep   time.Duration
	backoffMaxMul int

	mu       sync.Mutex
	logPath  string
	idxPath  string
	log      *os.File
	items    []Item // decoded in-memory view, backed by the log file
	head     int    // index into items of the next undelivered item
	closed   bool
	stopCh   chan struct{}
	wake     chan struct{}
	started  bool
}

// OpenDisk opens (or creates) the log file for one subscription set's
// queue at dir/<location>.log, replaying any pending items.
func OpenDisk(clk clock.Clock, dir, location string, backoffStep time.Duration, backoffMaxMul int) (*Disk, error) {
	if clk == nil {
		clk = clock.New()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: create dir: %w", err)
	}
	logPath := filepath.Join(dir, location+".log")
	idxPath := filepath.Join(dir, location+".idx")

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: open log: %w", err)
	}

	d := &Disk{
		clock:         clk,
		backoffStep:   backoffStep,
		backoffMaxMul: backoffMaxMul,
		logPath:       logPath,
		idxPath:       idxPath,
		log:           f,
		stopCh:        make(chan struct{}),
		wake:          make(chan struct{}, 1),
	}
	if err := d.replay(); err != nil {
		f.Close()
		return nil, err
	}
	d.head = d.readHeadIndex()
	return d, nil
}

func (d *Disk) replay() error {
	if _, err := d.log.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(d.log)
	for {
		item, err := decodeItem(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("queue: corrupt log %s: %w", d.logPath, err)
		}
		d.items = append(d.items, item)
	}
	if _, err := d.log.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

func (d *Disk) readHeadIndex() int {
	b, err := os.ReadFile(d.idxPath)
	if err != nil || len(b) < 8 {
		return 0
	}
	n := int(binary.BigEndian.Uint64(b))
	if n > len(d.items) {
		return len(d.items)
	}
	return n
}

func (d *Disk) writeHeadIndex(n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	_ = os.WriteFile(d.idxPath, b[:], 0o644)
}

func (d *Disk) Enqueue(item Item) {
	d.mu.Lock()
	_ = encodeItem(d.log, item)
	d.items = append(d.items, item)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Disk) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items) - d.head
}

func (d *Disk) Start(ctx context.Context, handler DequeueHandler) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	failures := 0
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return
		}
		if d.head >= len(d.items) {
			d.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-d.wake:
				continue
			}
		}
		head := d.items[d.head]
		d.mu.Unlock()

		if handler(ctx, head) {
			failures = 0
			d.mu.Lock()
			d.head++
			d.writeHeadIndex(d.head)
			d.mu.Unlock()
			continue
		}

		failures++
		wait := BackoffStep(d.backoffStep, d.backoffMaxMul, failures)
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-d.clock.After(wait):
		}
	}
}

func (d *Disk) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.stopCh)
	}
	_ = d.log.Close()
}

func (d *Disk) DeleteAndDispose() {
	d.Dispose()
	_ = os.Remove(d.logPath)
	_ = os.Remove(d.idxPath)
}
