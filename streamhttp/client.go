package streamhttp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pmcp-dev/pmcp/transport"
)

const acceptHeader = "application/json, text/event-stream"

// ClientTransportOptions configures a ClientTransport.
type ClientTransportOptions struct {
	// HTTPClient is used for both POST and GET requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Header is sent on every request (e.g. Authorization). Mcp-Session-Id
	// and Last-Event-ID are managed internally and must not be set here.
	Header http.Header

	// DisableListener skips opening the long-lived GET stream, for servers
	// that only ever reply synchronously to POSTs (no server push).
	DisableListener bool
}

// ClientTransport is a transport.Transport that speaks the streamable-HTTP
// binding from the client side: every outbound frame is POSTed to url, and
// (unless disabled) a background GET request holds open an SSE stream for
// server-initiated pushes, reconnecting with exponential backoff and
// resuming via Last-Event-ID, per spec.md §4.5.
type ClientTransport struct {
	id     transport.ID // fixed at construction; independent of the session id
	url    string
	client *http.Client
	header http.Header

	incoming chan []byte
	closeCh  chan struct{}
	closeOne sync.Once

	mu          sync.Mutex
	sessionID   string
	lastEventID string

	listenOnce sync.Once
	wg         sync.WaitGroup
}

// NewClientTransport dials no connection eagerly; the first Send establishes
// the session (if the server is stateful). Unless disabled, the background
// SSE listener is started here and waits for that session before it opens
// its GET stream.
func NewClientTransport(url string, opts ClientTransportOptions) *ClientTransport {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	hdr := opts.Header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	t := &ClientTransport{
		id:       transport.ID(newSessionID()),
		url:      url,
		client:   hc,
		header:   hdr,
		incoming: make(chan []byte, 16),
		closeCh:  make(chan struct{}),
	}
	if !opts.DisableListener {
		t.listenOnce.Do(func() {
			t.wg.Add(1)
			go t.listen()
		})
	}
	return t
}

func (t *ClientTransport) applyHeaders(req *http.Request) {
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	t.mu.Lock()
	sid := t.sessionID
	t.mu.Unlock()
	if sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
}

func (t *ClientTransport) Send(ctx context.Context, data []byte, _ transport.SendOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if resp.StatusCode == http.StatusAccepted {
		return nil // notification-only POST: no reply body
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("streamhttp: POST %s: status %d: %s", t.url, resp.StatusCode, body)
	}

	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "text/event-stream"):
		return t.drainSSE(resp.Body)
	default:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return t.push(body)
	}
}

func (t *ClientTransport) push(data []byte) error {
	select {
	case t.incoming <- data:
		return nil
	case <-t.closeCh:
		return transport.ErrClosed
	}
}

func (t *ClientTransport) drainSSE(body io.Reader) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var data bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "id:"):
			t.mu.Lock()
			t.lastEventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			t.mu.Unlock()
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(line, "data:"))
		case line == "":
			if data.Len() > 0 {
				if err := t.push(append([]byte(nil), data.Bytes()...)); err != nil {
					return err
				}
				data.Reset()
			}
		}
	}
	return sc.Err()
}

// listen holds open a long-lived GET request for server-pushed messages,
// reconnecting with exponential backoff (capped at 30s) on failure, and
// resuming from the last seen event id.
func (t *ClientTransport) listen() {
	defer t.wg.Done()
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-t.closeCh:
			return
		default:
		}

		t.mu.Lock()
		sid := t.sessionID
		t.mu.Unlock()
		if sid == "" {
			// No session established yet (stateless server, or no POST sent
			// yet); wait and retry rather than opening an unscoped stream.
			if !t.sleep(backoff) {
				return
			}
			continue
		}

		if err := t.listenOnce_(); err != nil {
			if !t.sleep(backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (t *ClientTransport) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-t.closeCh:
		return false
	}
}

func (t *ClientTransport) listenOnce_() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	t.applyHeaders(req)
	t.mu.Lock()
	if t.lastEventID != "" {
		req.Header.Set(lastEventHeader, t.lastEventID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("streamhttp: GET %s: status %d", t.url, resp.StatusCode)
	}
	return t.drainSSE(resp.Body)
}

func (t *ClientTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-t.incoming:
		if !ok {
			return nil, transport.ErrClosed
		}
		return b, nil
	case <-t.closeCh:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *ClientTransport) Close() error {
	t.closeOne.Do(func() {
		close(t.closeCh)
		t.wg.Wait()

		t.mu.Lock()
		sid := t.sessionID
		t.mu.Unlock()
		if sid != "" {
			req, err := http.NewRequest(http.MethodDelete, t.url, nil)
			if err == nil {
				t.applyHeaders(req)
				if resp, err := t.client.Do(req); err == nil {
					resp.Body.Close()
				}
			}
		}
	})
	return nil
}

func (t *ClientTransport) TransportID() transport.ID {
	return t.id
}

func (t *ClientTransport) IsConnected() bool {
	select {
	case <-t.closeCh:
		return false
	default:
		return true
	}
}

func (t *ClientTransport) TransportType() transport.Kind { return transport.KindHTTP }
