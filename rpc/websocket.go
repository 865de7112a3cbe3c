package rpc

import (
	"bufio"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// wssUpgrader accepts the optional wss:// capability of spec §6:
// a WebSocket upgrade performed on the decrypted TLS byte stream,
// ahead of the framing codec. gorilla/websocket expects a real
// http.ResponseWriter/http.Hijacker pair to complete the upgrade
// handshake; hijackShim supplies the minimum needed to hand it the
// raw *SecureChannel directly, since there is no http.Server in this
// code path.
var wssUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// upgradeWebSocket completes a WebSocket handshake for req, an already
// confirmed upgrade request read off br, and returns a net.Conn backed
// by the WebSocket so the framing codec can treat it exactly like a
// bare TLS stream. The caller owns deciding whether req is an upgrade
// at all (websocket.IsWebSocketUpgrade) and whether channel should be
// offered a WebSocket upgrade instead of the friendly page.
func upgradeWebSocket(channel *SecureChannel, br *bufio.Reader, req *http.Request) (net.Conn, error) {
	shim := &hijackShim{conn: channel, br: br}
	wsConn, err := wssUpgrader.Upgrade(shim, req, nil)
	if err != nil {
		return nil, err
	}
	return wsConn.NetConn(), nil
}

// hijackShim is the minimum http.ResponseWriter + http.Hijacker
// needed by websocket.Upgrader.Upgrade when there is no http.Server
// driving the connection.
type hijackShim struct {
	conn   net.Conn
	br     *bufio.Reader
	header http.Header
	wrote  bool
	status int
}

func (h *hijackShim) Header() http.Header {
	if h.header == nil {
		h.header = make(http.Header)
	}
	return h.header
}

func (h *hijackShim) Write(b []byte) (int, error) {
	h.wrote = true
	return h.conn.Write(b)
}

func (h *hijackShim) WriteHeader(status int) {
	h.status = status
}

func (h *hijackShim) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(h.br, bufio.NewWriter(h.conn))
	return h.conn, rw, nil
}
