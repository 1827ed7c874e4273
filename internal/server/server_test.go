package server

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/r2d2"
	"github.com/scigolib/r2d2/internal/query"
)

func TestQueryFromRequestLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{
			name:     "plain query",
			line:     "GET /LIST::ALL HTTP/1.1\r\n",
			expected: "LIST::ALL",
		},
		{
			name:     "query with arguments",
			line:     "GET /INSERT::store=1::TIMESTAMP=5 HTTP/1.1\r\n",
			expected: "INSERT::store=1::TIMESTAMP=5",
		},
		{
			name:     "second slash terminates",
			line:     "GET /LIST::ALL/extra HTTP/1.1\r\n",
			expected: "LIST::ALL",
		},
		{
			name:     "root path",
			line:     "GET / HTTP/1.1\r\n",
			expected: "",
		},
		{
			name:     "no target",
			line:     "GARBAGE\r\n",
			expected: "",
		},
		{
			name:     "escaped datetime",
			line:     "GET /TIME::2024-12-07%2011:15:10 HTTP/1.1\r\n",
			expected: "TIME::2024-12-07%2011:15:10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, queryFromRequestLine(tt.line))
		})
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := r2d2.Init(r2d2.Config{DataPath: t.TempDir(), FanOut: 8})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := New("127.0.0.1:0", query.New(db, log), log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.ln = ln
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return srv
}

func request(t *testing.T, addr, endpoint string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte("GET /" + endpoint + " HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(data)
}

func TestServerEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	addr := srv.Addr()

	// Insert then read back through the wire.
	resp := request(t, addr, "INSERT::store=1,product=101,number_sold=5::TIMESTAMP=1733697225084::HIDE")
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n\r\n"))
	require.Contains(t, resp, "Success")

	resp = request(t, addr, "LIST::ONE::1733697225084")
	require.Contains(t, resp, "101")
	require.Contains(t, resp, "5")

	resp = request(t, addr, "AGGREGATE::number_sold::SUM")
	require.Contains(t, resp, "5")

	resp = request(t, addr, "TIME::2024-12-07%2011:15:10")
	require.Contains(t, resp, "1733570110000")

	// Unknown commands still answer 200 with a notice page.
	resp = request(t, addr, "NONSENSE")
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n\r\n"))
	require.Contains(t, resp, "Invalid query")
}

func TestServerSurvivesGarbageRequest(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	require.NoError(t, err)
	_, err = conn.Write([]byte("complete nonsense\r\n"))
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, _ := io.ReadAll(conn)
	_ = conn.Close()
	require.Contains(t, string(data), "200 OK")

	// The listener keeps serving after the bad request.
	resp := request(t, srv.Addr(), "LIST::ALL")
	require.Contains(t, resp, "200 OK")
}
