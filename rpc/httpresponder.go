package rpc

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// oneShotHTTPServer serves exactly one HTTP request off an already
// accepted net.Conn and writes its response directly, without the
// keep-alive/goroutine machinery of http.Server — appropriate here
// since the caller (Listener.serveFriendlyPage) owns the connection's
// lifetime and closes it itself right after (spec §6: plaintext HTTP
// on a TLS port gets a fast, unceremonious close).
type oneShotHTTPServer struct {
	handler http.Handler
}

func (s *oneShotHTTPServer) serve(conn net.Conn) {
	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		return
	}
	w := &directResponseWriter{conn: conn, header: make(http.Header)}
	s.handler.ServeHTTP(w, req)
	w.flush()
}

// directResponseWriter is the minimum http.ResponseWriter needed to
// hand a handler's output straight to a raw connection.
type directResponseWriter struct {
	conn        net.Conn
	header      http.Header
	status      int
	wroteHeader bool
}

func (w *directResponseWriter) Header() http.Header { return w.header }

func (w *directResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.conn.Write(b)
}

func (w *directResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	fmt.Fprintf(w.conn, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	w.header.Set("Connection", "close")
	w.header.Write(w.conn)
	fmt.Fprint(w.conn, "\r\n")
}

func (w *directResponseWriter) flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}
