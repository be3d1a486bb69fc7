package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"main/internal/schema"
	"main/pkg/exception"
)

type appendRequest struct {
	header  schema.EventHeader
	payload []byte
}

// Writer appends events to journal segments from a buffered queue.
// A single goroutine owns the file handle, so appends are ordered by
// enqueue order.
type Writer struct {
	cfg Config
	ch  chan appendRequest
	wg  sync.WaitGroup
	err atomic.Value

	seq     atomic.Uint64
	started uint32
	closed  uint32
}

// NewWriter creates a journal writer and ensures the directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{
		cfg: cfg,
		ch:  make(chan appendRequest, cfg.QueueSize),
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return fmt.Errorf("journal writer already started")
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// SetSeq seeds the sequence counter, used after recovery so new events
// continue past the replayed tail.
func (w *Writer) SetSeq(seq uint64) {
	w.seq.Store(seq)
}

// Seq returns the last assigned sequence number.
func (w *Writer) Seq() uint64 {
	return w.seq.Load()
}

// Append marshals the payload and enqueues it under the next sequence
// number. It never blocks the pipeline; a full queue is reported as an
// error for the caller to count.
func (w *Writer) Append(eventType schema.EventType, payload any) error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return exception.ErrJournalClosed
	}
	if err := w.Err(); err != nil {
		return err
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	header := schema.NewHeader(eventType, w.seq.Add(1), time.Now().UTC().UnixNano())
	select {
	case w.ch <- appendRequest{header: header, payload: data}:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Close stops the writer and flushes any buffered data.
func (w *Writer) Close() error {
	if atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (w *Writer) run(ctx context.Context) {
	var (
		file    *os.File
		buf     *bufio.Writer
		written int64
		segID   uint64
		scratch [recordHeaderSize + recordChecksumSize]byte
	)

	openSegment := func() error {
		if file != nil {
			if buf != nil {
				if err := buf.Flush(); err != nil {
					return err
				}
			}
			if err := file.Close(); err != nil {
				return err
			}
		}
		segID++
		name := fmt.Sprintf("%s-%06d.seg", w.cfg.FilePrefix, segID)
		f, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		file = f
		buf = bufio.NewWriterSize(f, w.cfg.BufferSize)
		written = 0
		return nil
	}

	fail := func(err error) {
		if err != nil && w.err.Load() == nil {
			w.err.Store(err)
		}
	}

	// continue after the highest existing segment so replay order holds
	// across restarts
	last, err := lastSegmentIndex(w.cfg.Dir, w.cfg.FilePrefix)
	if err != nil {
		fail(err)
		return
	}
	segID = last

	if err := openSegment(); err != nil {
		fail(err)
		return
	}

	var flushC <-chan time.Time
	if w.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()
		flushC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			// drain what was already accepted, then stop
			for {
				select {
				case req, ok := <-w.ch:
					if !ok {
						fail(buf.Flush())
						fail(file.Close())
						return
					}
					fail(w.write(buf, scratch[:], req, &written))
				default:
					fail(buf.Flush())
					fail(file.Close())
					return
				}
			}
		case <-flushC:
			fail(buf.Flush())
		case req, ok := <-w.ch:
			if !ok {
				fail(buf.Flush())
				fail(file.Close())
				return
			}
			if written >= w.cfg.SegmentMaxBytes {
				if err := openSegment(); err != nil {
					fail(err)
					return
				}
			}
			fail(w.write(buf, scratch[:], req, &written))
		}
	}
}

// lastSegmentIndex scans dir for prefix-NNNNNN.seg files and returns the
// highest index, zero when none exist.
func lastSegmentIndex(dir, prefix string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".seg") {
			continue
		}
		idx, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), ".seg"), 10, 64)
		if err != nil {
			continue
		}
		if idx > last {
			last = idx
		}
	}
	return last, nil
}

func (w *Writer) write(buf *bufio.Writer, scratch []byte, req appendRequest, written *int64) error {
	encodeHeader(scratch[:recordHeaderSize], req.header, len(req.payload))
	crc := checksum(scratch[:recordHeaderSize], req.payload)
	binary.LittleEndian.PutUint32(scratch[recordHeaderSize:recordHeaderSize+recordChecksumSize], crc)

	if _, err := buf.Write(scratch[:recordHeaderSize]); err != nil {
		return err
	}
	if _, err := buf.Write(req.payload); err != nil {
		return err
	}
	if _, err := buf.Write(scratch[recordHeaderSize : recordHeaderSize+recordChecksumSize]); err != nil {
		return err
	}
	*written += int64(recordHeaderSize + len(req.payload) + recordChecksumSize)
	return nil
}
