package rpc

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hohhen/Halibut/registry"
	"github.com/hohhen/Halibut/rpclog"
)

// plaintextPeekTimeout bounds how long the Listener waits to see
// whether a freshly accepted socket looks like plaintext HTTP before
// deciding it must be TLS (spec §4.5 step 1).
const plaintextPeekTimeout = 2 * time.Second

// plaintextCloseDeadline is how quickly a misdirected plaintext
// connection is closed after being served the friendly page, so a
// misconfigured client fails fast (spec §6).
const plaintextCloseDeadline = 500 * time.Millisecond

// Listener binds a TCP port and accepts Secure Channel connections,
// routing each to either the Request Dispatcher (listening) or the
// poll-queue subsystem (polling-in), per spec §4.5.
type Listener struct {
	cfg      ListenerConfig
	identity *Identity
	trust    *TrustSet
	registry registry.Registry
	lc       *lifecycle
	logger   rpclog.Logger

	pollRegistry *pollRegistry

	ln net.Listener

	connsMu sync.Mutex
	conns   map[*Connection]struct{}
}

func newListener(cfg ListenerConfig, identity *Identity, trust *TrustSet, reg registry.Registry, polls *pollRegistry, logger rpclog.Logger) *Listener {
	return &Listener{
		cfg:          cfg,
		identity:     identity,
		trust:        trust,
		registry:     reg,
		lc:           newLifecycle(),
		logger:       logger,
		pollRegistry: polls,
		conns:        make(map[*Connection]struct{}),
	}
}

// Addr returns the bound address, valid after start() returns.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) start() error {
	ln, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return err
	}
	l.ln = ln

	release, ok := l.lc.track()
	if !ok {
		ln.Close()
		return nil
	}
	go func() {
		defer release()
		l.acceptLoop()
	}()
	return nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.lc.Done():
				return
			default:
				l.logger.Warnf("accept: %s", err)
				return
			}
		}
		release, ok := l.lc.track()
		if !ok {
			conn.Close()
			return
		}
		go func() {
			defer release()
			l.handle(conn)
		}()
	}
}

func (l *Listener) handle(raw net.Conn) {
	br := bufio.NewReader(raw)
	raw.SetReadDeadline(time.Now().Add(plaintextPeekTimeout))
	peeked, err := br.Peek(4)
	raw.SetReadDeadline(time.Time{})
	if err == nil && looksLikeHTTP(peeked) {
		l.serveFriendlyPage(raw, br)
		return
	}

	sock := &peekedConn{Conn: raw, r: br}

	channel, err := ServerHandshake(sock, l.identity, l.cfg.HandshakeTimeout)
	if err != nil {
		l.logger.Debugf("handshake failed from %s: %s", raw.RemoteAddr(), err)
		return
	}
	if err := checkTrust(channel, l.trust); err != nil {
		l.logger.Warnf("untrusted peer %s: %s", raw.RemoteAddr(), err)
		return
	}

	transport, ok := l.negotiateTransport(raw, channel)
	if !ok {
		return
	}

	conn := newConnection(channel, transport)
	subID, err := conn.identifyAsServer(l.identity)
	if err != nil {
		l.logger.Debugf("identity handshake failed from %s: %s", raw.RemoteAddr(), err)
		conn.Close()
		return
	}

	if subID != "" {
		if err := l.pollRegistry.register(subID, conn); err != nil {
			l.logger.Warnf("poll queue for %q rejected connection: %s", subID, err)
			conn.Close()
		}
		return
	}

	l.trackConn(conn)
	defer l.untrackConn(conn)
	runDispatcher(l.lc, conn, l.registry, l.logger)
}

// negotiateTransport repeats the plaintext-HTTP peek of handle, this
// time against the decrypted byte stream rather than the raw socket.
// A client that completes the TLS handshake and then speaks HTTP/1.1
// — any real browser hitting https://node:port/ — still needs the
// friendly page (spec §6, testable property §8.7), not a failed CBOR
// decode in identifyAsServer. Genuine WebSocket upgrade requests also
// look like HTTP, so that check is folded in here rather than layered
// on top. ok is false once channel has been fully served and closed,
// and handle should return without touching it further.
func (l *Listener) negotiateTransport(raw net.Conn, channel *SecureChannel) (io.ReadWriter, bool) {
	channelBR := bufio.NewReader(channel)
	channel.SetReadDeadline(time.Now().Add(plaintextPeekTimeout))
	peeked, err := channelBR.Peek(4)
	channel.SetReadDeadline(time.Time{})
	if err != nil || !looksLikeHTTP(peeked) {
		return readWriter{r: channelBR, w: channel}, true
	}

	req, err := http.ReadRequest(channelBR)
	if err != nil {
		l.logger.Debugf("malformed HTTP over TLS from %s: %s", raw.RemoteAddr(), err)
		channel.Close()
		return nil, false
	}

	if l.cfg.EnableWebSocket && websocket.IsWebSocketUpgrade(req) {
		wsConn, err := upgradeWebSocket(channel, channelBR, req)
		if err != nil {
			l.logger.Debugf("websocket upgrade failed from %s: %s", raw.RemoteAddr(), err)
			channel.Close()
			return nil, false
		}
		return wsConn, true
	}

	l.serveFriendlyPageOverTLS(channel, req)
	channel.Close()
	return nil, false
}

func (l *Listener) serveFriendlyPageOverTLS(channel *SecureChannel, req *http.Request) {
	handler := friendlyPageHandler(l.cfg.FriendlyPage, l.logger)
	w := &directResponseWriter{conn: channel, header: make(http.Header)}
	handler.ServeHTTP(w, req)
	w.flush()
}

func (l *Listener) serveFriendlyPage(raw net.Conn, br *bufio.Reader) {
	raw.SetDeadline(time.Now().Add(plaintextCloseDeadline))
	handler := friendlyPageHandler(l.cfg.FriendlyPage, l.logger)
	conn := &peekedConn{Conn: raw, r: br}
	srv := &oneShotHTTPServer{handler: handler}
	srv.serve(conn)
	raw.Close()
}

func looksLikeHTTP(b []byte) bool {
	switch string(b) {
	case "GET ", "POST", "PUT ", "HEAD", "OPTI", "DELE":
		return true
	default:
		return false
	}
}

// peekedConn replays the bytes already consumed into a bufio.Reader
// by the plaintext-vs-TLS peek, so neither the HTTP responder nor the
// TLS handshake loses the first few bytes of the stream.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *peekedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// readWriter combines an independent reader and writer into a single
// io.ReadWriter, used to keep a bufio-buffered read side (after the
// post-handshake HTTP peek) paired with the channel's own write side.
type readWriter struct {
	r io.Reader
	w io.Writer
}

func (rw readWriter) Read(p []byte) (int, error)  { return rw.r.Read(p) }
func (rw readWriter) Write(p []byte) (int, error) { return rw.w.Write(p) }

func (l *Listener) trackConn(c *Connection) {
	l.connsMu.Lock()
	l.conns[c] = struct{}{}
	l.connsMu.Unlock()
}

func (l *Listener) untrackConn(c *Connection) {
	l.connsMu.Lock()
	delete(l.conns, c)
	l.connsMu.Unlock()
}

// closeTrackedConns force-closes every Connection currently running a
// dispatch loop under this Listener. A dispatcher blocked in
// conn.readRequest has no read deadline to expire on its own, so the
// grace timer in shutdown needs a way to actually evict it rather than
// just giving up on waiting (spec §5, §6: sockets are guaranteed to be
// released on any exit path).
func (l *Listener) closeTrackedConns() {
	l.connsMu.Lock()
	conns := make([]*Connection, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.connsMu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// shutdown stops accepting and waits for in-flight connections to
// finish, within grace. Once grace elapses it force-closes any
// connection still running a dispatch loop so the wait below is
// guaranteed to return instead of blocking on a peer that never sends
// another byte.
func (l *Listener) shutdown(grace time.Duration) {
	l.ln.Close()
	done := make(chan struct{})
	go func() {
		l.lc.shutdownNow()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-time.After(grace):
	}
	l.closeTrackedConns()
	<-done
}
