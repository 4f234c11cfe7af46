package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

var stdioSeq int64

// Stdio implements Transport over a pair of io.Reader/io.WriteCloser using
// newline-delimited minified JSON, per the stdio binding: one frame per
// line, terminated by a single '\n'. A frame containing an embedded '\n' is
// a caller error and is rejected by Send before it reaches the wire.
type Stdio struct {
	id ID
	r  *bufio.Reader
	w  io.WriteCloser

	mu     sync.Mutex
	wMu    sync.Mutex
	closed bool
}

// NewStdio wraps r/w as a Transport. r is typically os.Stdin and w
// os.Stdout for a server, or the reverse pipe ends for a subprocess client.
func NewStdio(r io.Reader, w io.WriteCloser) *Stdio {
	return &Stdio{
		id: ID(fmt.Sprintf("stdio-%d", atomic.AddInt64(&stdioSeq, 1))),
		r:  bufio.NewReader(r),
		w:  w,
	}
}

func (s *Stdio) Send(ctx context.Context, data []byte, _ SendOptions) error {
	if bytes.ContainsRune(data, '\n') {
		return fmt.Errorf("transport/stdio: frame contains embedded newline")
	}
	s.wMu.Lock()
	defer s.wMu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = '\n'
	_, err := s.w.Write(out)
	return err
}

// Receive reads the next newline-terminated frame. A malformed line is
// still returned as raw bytes to the caller (the wire codec, not the
// transport, decides whether it parses); only true I/O failure or Close
// surfaces here, matching "an unparseable line ... does not tear down the
// connection."
func (s *Stdio) Receive(ctx context.Context) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	var buf bytes.Buffer
	for {
		chunk, err := s.r.ReadSlice('\n')
		buf.Write(chunk)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if buf.Len() == 0 {
				return nil, err
			}
			return buf.Bytes(), err
		}
		line := buf.Bytes()
		return line[:len(line)-1], nil
	}
}

func (s *Stdio) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

func (s *Stdio) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stdio) TransportID() ID        { return s.id }
func (s *Stdio) IsConnected() bool      { return !s.isClosed() }
func (s *Stdio) TransportType() Kind    { return KindStdio }
