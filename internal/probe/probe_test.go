package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gorilla/websocket"

	"uptime-incident-engine/internal/monitor"
)

func newProber() *Prober {
	return New(Config{HTTPClient: NewHTTPClient(HTTPClientConfig{
		Timeout:   5 * time.Second,
		UserAgent: "uptime-test/1.0",
	})})
}

func httpMonitor(url string) monitor.Monitor {
	return monitor.Monitor{
		ID:        "m1",
		Name:      "test",
		CheckType: monitor.CheckHTTP,
		URL:       url,
		Method:    http.MethodGet,
	}
}

func TestHTTPUp(t *testing.T) {
	c := qt.New(t)
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Write([]byte("all systems operational"))
	}))
	defer srv.Close()

	m := httpMonitor(srv.URL)
	m.Keyword = "operational"
	res := newProber().Probe(context.Background(), m)

	c.Assert(res.IsUp, qt.IsTrue, qt.Commentf("%+v", res))
	c.Assert(res.StatusCode, qt.Equals, http.StatusOK)
	c.Assert(res.ResponseTimeMs, qt.Not(qt.IsNil))
	c.Assert(res.ErrorType, qt.Equals, monitor.ErrorNone)
	c.Assert(gotUA, qt.Equals, "uptime-test/1.0")
}

func TestHTTPStatusChecks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/"))
		w.WriteHeader(code)
	}))
	defer srv.Close()

	tests := []struct {
		about    string
		path     string
		expected int
		up       bool
	}{
		{about: "2xx accepted by default", path: "/204", up: true},
		{about: "5xx rejected by default", path: "/503", up: false},
		{about: "4xx rejected by default", path: "/404", up: false},
		{about: "explicit expected status", path: "/404", expected: 404, up: true},
		{about: "explicit expected status mismatch", path: "/200", expected: 201, up: false},
	}
	p := newProber()
	for _, test := range tests {
		t.Run(test.about, func(t *testing.T) {
			c := qt.New(t)
			m := httpMonitor(srv.URL + test.path)
			m.ExpectedStatus = test.expected
			res := p.Probe(context.Background(), m)
			c.Assert(res.IsUp, qt.Equals, test.up)
			if !test.up {
				c.Assert(res.ErrorType, qt.Equals, monitor.ErrorUnexpectedStatus)
				c.Assert(res.StatusCode, qt.Not(qt.Equals), 0)
			}
		})
	}
}

func TestHTTPKeywordMissing(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	m := httpMonitor(srv.URL)
	m.Keyword = "operational"
	res := newProber().Probe(context.Background(), m)
	c.Assert(res.IsUp, qt.IsFalse)
	c.Assert(res.ErrorType, qt.Equals, monitor.ErrorKeywordMissing)
	c.Assert(res.StatusCode, qt.Equals, http.StatusOK)
}

func TestHTTPTimeout(t *testing.T) {
	c := qt.New(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := newProber().Probe(ctx, httpMonitor(srv.URL))
	c.Assert(res.IsUp, qt.IsFalse)
	c.Assert(res.ErrorType, qt.Equals, monitor.ErrorTimeout)
}

func TestHTTPConnectionRefused(t *testing.T) {
	c := qt.New(t)
	addr := closedAddr(c)
	res := newProber().Probe(context.Background(), httpMonitor("http://"+addr))
	c.Assert(res.IsUp, qt.IsFalse)
	c.Assert(res.ErrorType, qt.Equals, monitor.ErrorConnection)
	c.Assert(res.StatusCode, qt.Equals, 0)
}

func TestHTTPUntrustedCertificate(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	res := newProber().Probe(context.Background(), httpMonitor(srv.URL))
	c.Assert(res.IsUp, qt.IsFalse)
	c.Assert(res.ErrorType, qt.Equals, monitor.ErrorSSL)
}

func TestTCP(t *testing.T) {
	c := qt.New(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	portN, _ := strconv.Atoi(port)
	m := monitor.Monitor{CheckType: monitor.CheckTCP, Host: host, Port: portN}
	res := newProber().Probe(context.Background(), m)
	c.Assert(res.IsUp, qt.IsTrue, qt.Commentf("%+v", res))

	host, port, _ = net.SplitHostPort(closedAddr(c))
	portN, _ = strconv.Atoi(port)
	m = monitor.Monitor{CheckType: monitor.CheckTCP, Host: host, Port: portN}
	res = newProber().Probe(context.Background(), m)
	c.Assert(res.IsUp, qt.IsFalse)
	c.Assert(res.ErrorType, qt.Equals, monitor.ErrorConnection)
}

func TestWebSocket(t *testing.T) {
	c := qt.New(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := monitor.Monitor{CheckType: monitor.CheckWebSocket, URL: wsURL + "/ws"}
	res := newProber().Probe(context.Background(), m)
	c.Assert(res.IsUp, qt.IsTrue, qt.Commentf("%+v", res))
	c.Assert(res.StatusCode, qt.Equals, http.StatusSwitchingProtocols)

	m.URL = wsURL + "/nope"
	res = newProber().Probe(context.Background(), m)
	c.Assert(res.IsUp, qt.IsFalse)
	c.Assert(res.ErrorType, qt.Equals, monitor.ErrorUnexpectedStatus)
	c.Assert(res.StatusCode, qt.Equals, http.StatusNotFound)
}

func TestUnsupportedCheckType(t *testing.T) {
	c := qt.New(t)
	res := newProber().Probe(context.Background(), monitor.Monitor{CheckType: "icmp"})
	c.Assert(res.IsUp, qt.IsFalse)
	c.Assert(res.ErrorType, qt.Equals, monitor.ErrorInvalidConfig)
}

// closedAddr returns an address nothing listens on.
func closedAddr(c *qt.C) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, qt.IsNil)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}
