package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/metrics"
)

// streamFrame is one pushed log entry.
type streamFrame struct {
	Process string      `json:"process"`
	Cursor  string      `json:"cursor"`
	Message wireMessage `json:"message"`
}

// ErrNotSubscribed is returned by Stream.Read for a process outside the
// subscription when no fallback reader is set.
var ErrNotSubscribed = errors.New("process not subscribed")

// Stream keeps the most recent messages of a set of processes in memory,
// fed by a websocket subscription, and serves Read from that buffer.
//
// With a fallback reader, processes outside the subscription and every read
// made while the subscription is down go to the fallback, and each connect
// seeds the buffers from it so effects that landed before the connection are
// not lost.
type Stream struct {
	url        string
	processes  []string
	subscribed map[string]struct{}
	window     int
	log        zerolog.Logger
	metrics    *metrics.Recorder
	fallback   Reader

	minBackoff time.Duration
	maxBackoff time.Duration

	mu      sync.RWMutex
	buffers map[string][]message.Message // newest first
	live    bool
	seq     int64
}

var _ Reader = (*Stream)(nil)

// NewStream builds a stream reader for processes. window caps each buffer.
func NewStream(rawURL string, processes []string, window int, log zerolog.Logger, rec *metrics.Recorder) *Stream {
	if window <= 0 {
		window = DefaultPageSize
	}
	unique := make(map[string]struct{}, len(processes))
	for _, p := range processes {
		if p = strings.TrimSpace(p); p != "" {
			unique[p] = struct{}{}
		}
	}
	ps := make([]string, 0, len(unique))
	for p := range unique {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return &Stream{
		url:        rawURL,
		processes:  ps,
		subscribed: unique,
		window:     window,
		log:        log,
		metrics:    rec,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		buffers:    make(map[string][]message.Message, len(ps)),
	}
}

// WithFallback sets the reader used outside the subscription and while it
// is down. Call it before Run.
func (s *Stream) WithFallback(r Reader) *Stream {
	s.fallback = r
	return s
}

func (s *Stream) subscribeURL() (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("processes", strings.Join(s.processes, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run consumes the subscription until ctx is canceled, reconnecting with a
// growing backoff that starts over after every session that connected.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.processes) == 0 {
		return fmt.Errorf("stream requires at least one process")
	}
	u, err := s.subscribeURL()
	if err != nil {
		return err
	}

	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := s.consume(ctx, u)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.minBackoff
		}
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("ledger stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(s.maxBackoff), float64(backoff)*1.8))
	}
}

// consume runs one session. connected reports whether the dial and the
// backfill succeeded.
func (s *Stream) consume(ctx context.Context, u string) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := s.backfill(ctx); err != nil {
		return false, err
	}
	s.setLive(true)
	defer s.setLive(false)

	s.log.Info().Strs("processes", s.processes).Msg("connected ledger stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("ledger stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	// ReadMessage blocks; closing the conn on cancel unblocks it.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var frame streamFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode stream frame")
			continue
		}
		s.ingest(frame)
	}
}

// backfill replaces each buffer with the fallback's newest window.
func (s *Stream) backfill(ctx context.Context) error {
	if s.fallback == nil {
		return nil
	}
	seeded := make(map[string][]message.Message, len(s.processes))
	for _, p := range s.processes {
		batch, err := s.fallback.Read(ctx, p, Page{Limit: s.window})
		if err != nil {
			return fmt.Errorf("backfill %s: %w", p, err)
		}
		msgs := batch.Messages
		if len(msgs) > s.window {
			msgs = msgs[:s.window]
		}
		seeded[p] = append([]message.Message(nil), msgs...)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, msgs := range seeded {
		s.buffers[p] = msgs
	}
	return nil
}

func (s *Stream) setLive(live bool) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

func (s *Stream) ingest(frame streamFrame) {
	if frame.Process == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seq
	s.seq++
	msg, ok := accept(s.log, s.metrics, frame.Process, edgeMessageID(frame.Cursor, 0), seq, frame.Message)
	if !ok {
		return
	}
	for _, have := range s.buffers[frame.Process] {
		if have.ID == msg.ID {
			return
		}
	}
	buf := append([]message.Message{msg}, s.buffers[frame.Process]...)
	if len(buf) > s.window {
		buf = buf[:s.window]
	}
	s.buffers[frame.Process] = buf
}

// Read serves a page from the buffer. The cursor is an offset into it.
func (s *Stream) Read(ctx context.Context, process string, page Page) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	s.mu.RLock()
	_, subscribed := s.subscribed[process]
	live := s.live
	s.mu.RUnlock()
	switch {
	case s.fallback != nil && (!subscribed || !live):
		return s.fallback.Read(ctx, process, page)
	case !subscribed:
		return Batch{}, fmt.Errorf("%w: %s", ErrNotSubscribed, process)
	}
	start := 0
	if page.Cursor != "" {
		n, err := strconv.Atoi(page.Cursor)
		if err != nil || n < 0 {
			return Batch{}, fmt.Errorf("invalid cursor %q", page.Cursor)
		}
		start = n
	}
	limit := page.Limit
	if limit <= 0 {
		limit = s.window
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.buffers[process]
	if start >= len(buf) {
		return Batch{}, nil
	}
	end := start + limit
	if end > len(buf) {
		end = len(buf)
	}
	out := Batch{Messages: make([]message.Message, end-start)}
	copy(out.Messages, buf[start:end])
	if end < len(buf) {
		out.Next = strconv.Itoa(end)
	}
	return out, nil
}
