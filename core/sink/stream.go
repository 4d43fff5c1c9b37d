package sink

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/comet/core/broadcast"
)

// Stream writes messages to a held-open HTTP response, flushing after each
// one so the client sees it immediately.
type Stream struct {
	id        string
	w         http.ResponseWriter
	rc        *http.ResponseController
	separator []byte

	mu      sync.Mutex
	closed  bool
	outcome broadcast.Outcome
	done    chan struct{}
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamID sets the sink ID, for example a connection or session ID.
// Defaults to a random UUID.
func WithStreamID(id string) StreamOption {
	return func(s *Stream) {
		if id != "" {
			s.id = id
		}
	}
}

// WithSeparator appends sep after every delivered message.
func WithSeparator(sep string) StreamOption {
	return func(s *Stream) { s.separator = []byte(sep) }
}

// NewStream wraps w. The caller keeps ownership of w and must not return
// from its handler before the subscription ends.
func NewStream(w http.ResponseWriter, opts ...StreamOption) *Stream {
	s := &Stream{
		id:   uuid.NewString(),
		w:    w,
		rc:   http.NewResponseController(w),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) ID() string { return s.id }

// Done is closed when the subscription ends.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Outcome returns how the subscription ended, empty while it is live.
func (s *Stream) Outcome() broadcast.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Write sends raw bytes and flushes. Handlers use it for output written
// before or after suspending.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.writeLocked(context.Background(), p)
}

// WritePadding writes an HTML comment of size dashes. Some clients buffer
// the first bytes of a response; the padding pushes them through.
func (s *Stream) WritePadding(size int) error {
	_, err := s.Write([]byte("<!-- " + strings.Repeat("-", max(size, 0)) + " -->\n"))
	return err
}

func (s *Stream) Deliver(ctx context.Context, msg any) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(s.separator) > 0 {
		data = append(data[:len(data):len(data)], s.separator...)
	}
	_, err = s.writeLocked(ctx, data)
	return err
}

func (s *Stream) Close(outcome broadcast.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.outcome = outcome
	close(s.done)
}

func (s *Stream) writeLocked(ctx context.Context, p []byte) (int, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return 0, err
		}
		defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()
	}
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}
