// Package server exposes the query engine over TCP. The protocol is a
// deliberately minimal HTTP/1.1 subset: only the request line is read,
// the path segment is the query string, the status is always 200, and
// the connection closes after a single response.
package server

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scigolib/r2d2/internal/query"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:6969"

const (
	// maxRequestLine bounds how much of a request is read; headers and
	// bodies beyond it are ignored anyway.
	maxRequestLine = 8 << 10
	readTimeout    = 5 * time.Second
)

// Server accepts connections serially: each one fully drains through
// request parse, query execution, and response write before the next is
// accepted. That serialization is what keeps the store single-threaded.
type Server struct {
	addr   string
	engine *query.Engine
	log    *logrus.Logger
	ln     net.Listener
}

// New creates a server. Empty addr selects DefaultAddr; a nil logger
// falls back to the logrus standard logger.
func New(addr string, engine *query.Engine, log *logrus.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{addr: addr, engine: engine, log: log}
}

// ListenAndServe binds the listen address and serves until Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.WithField("addr", s.addr).Info("listening")
	return s.Serve(ln)
}

// Serve runs the accept loop on ln. It returns nil once the listener is
// closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.handle(conn)
	}
}

// Addr returns the bound listener address, or the configured one before
// ListenAndServe.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Close stops the accept loop.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// handle serves exactly one request on conn. A bad request never crashes
// the process; it gets a notice page like any other query result.
func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	reader := bufio.NewReaderSize(conn, maxRequestLine)
	// ReadSlice stops at the buffer size, so an over-long request line is
	// cut at maxRequestLine instead of being read in full.
	raw, err := reader.ReadSlice('\n')
	line := string(raw)
	if err != nil && line == "" {
		s.log.WithError(err).Warn("request read failed")
		return
	}

	q := queryFromRequestLine(line)
	s.log.WithFields(logrus.Fields{
		"remote": conn.RemoteAddr().String(),
		"query":  q,
	}).Info("query")

	result := s.engine.Execute(q)

	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\n\r\n")
	b.WriteString(RenderPage(result))
	if _, err := conn.Write([]byte(b.String())); err != nil {
		s.log.WithError(err).Warn("response write failed")
	}
}

// queryFromRequestLine extracts the query from an HTTP request line: the
// path component after the leading '/', up to the next '/' or the end of
// the line. The component is used verbatim.
func queryFromRequestLine(line string) string {
	fields := strings.Fields(line)
	target := ""
	for _, f := range fields {
		if strings.HasPrefix(f, "/") {
			target = f
			break
		}
	}
	if target == "" {
		return ""
	}

	q := target[1:]
	if i := strings.IndexByte(q, '/'); i >= 0 {
		q = q[:i]
	}
	return q
}
