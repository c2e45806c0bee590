package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func startTestServer(t *testing.T, configure func(cfg *Config), register func(s *Server)) (addr string, shutdown func()) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TestMode = true
	if configure != nil {
		configure(&cfg)
	}
	s := NewWithConfig(cfg)
	register(s)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	addr = ln.Addr().String()
	ln.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := s.Listen(addr); err != nil {
			errCh <- err
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, dialErr := net.DialTimeout("tcp", addr, 50*time.Millisecond); dialErr == nil {
			c.Close()
			break
		}
		select {
		case err := <-errCh:
			t.Fatalf("server failed to start: %v", err)
		default:
		}
		time.Sleep(10 * time.Millisecond)
	}

	return addr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}
}

func TestServerGETRoundTrip(t *testing.T) {
	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterGET("/hello", func(req *Req, res *Res) {
			res.SetHeader("Content-Type", "text/plain")
			res.Reply(200, []byte("hello, "+req.QueryParam("name")))
		})
	})
	defer shutdown()

	resp, err := http.Get("http://" + addr + "/hello?name=ember")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := readAll(t, resp)
	if body != "hello, ember" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestServerRouteParams(t *testing.T) {
	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterGET("/users/:id", func(req *Req, res *Res) {
			res.Reply(200, []byte(req.Param("id")))
		})
	})
	defer shutdown()

	resp, err := http.Get("http://" + addr + "/users/42")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if body := readAll(t, resp); body != "42" {
		t.Fatalf("expected route param 42, got %q", body)
	}
}

func TestServerUnmatchedRouteReturns404(t *testing.T) {
	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterGET("/known", func(req *Req, res *Res) { res.Reply(200, []byte("ok")) })
	})
	defer shutdown()

	resp, err := http.Get("http://" + addr + "/unknown")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServerPOSTBufferedBody(t *testing.T) {
	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterPOST("/echo", func(req *Req, res *Res) {
			res.Reply(200, req.Body())
		})
	})
	defer shutdown()

	resp, err := http.Post("http://"+addr+"/echo", "text/plain", strings.NewReader("roundtrip payload"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if body := readAll(t, resp); body != "roundtrip payload" {
		t.Fatalf("expected echoed body, got %q", body)
	}
}

func TestServerKeepAlivePipelinesTwoRequests(t *testing.T) {
	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterGET("/a", func(req *Req, res *Res) { res.Reply(200, []byte("A")) })
		s.RegisterGET("/b", func(req *Req, res *Res) { res.Reply(200, []byte("B")) })
	})
	defer shutdown()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	br := bufio.NewReader(conn)
	resp1, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response 1: %v", err)
	}
	body1 := readAll(t, resp1)
	resp2, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response 2: %v", err)
	}
	body2 := readAll(t, resp2)

	if body1 != "A" || body2 != "B" {
		t.Fatalf("expected pipelined A/B, got %q/%q", body1, body2)
	}
}

func TestServerKeepAliveResetsArenaBetweenRequests(t *testing.T) {
	usedBefore := make(chan int, 1)
	usedAfter := make(chan int, 1)
	first := true

	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterGET("/a", func(req *Req, res *Res) {
			if first {
				first = false
				usedBefore <- req.arena.Used()
			} else {
				usedAfter <- req.arena.Used()
			}
			res.Reply(200, []byte("ok"))
		})
	})
	defer shutdown()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	br := bufio.NewReader(conn)
	resp1, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response 1: %v", err)
	}
	readAll(t, resp1)

	if _, err := conn.Write([]byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp2, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response 2: %v", err)
	}
	readAll(t, resp2)

	before := <-usedBefore
	after := <-usedAfter
	if before == 0 {
		t.Fatal("expected the first request to have used some arena bytes")
	}
	if after > before {
		t.Fatalf("arena usage grew across keep-alive requests: before=%d after=%d, want arena reset between them", before, after)
	}
}

func TestServerSpawnHTTPDefersReplyToWorkerPool(t *testing.T) {
	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterGET("/async", func(req *Req, res *Res) {
			conn := res.conn
			s.WorkerPool().SpawnHTTP(conn, req, res,
				func() any { return "done asynchronously" },
				func(result any, req *Req, res *Res) {
					res.Reply(200, []byte(result.(string)))
				})
		})
	})
	defer shutdown()

	resp, err := http.Get("http://" + addr + "/async")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if body := readAll(t, resp); body != "done asynchronously" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestServerJSONRoundTrip(t *testing.T) {
	type widget struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterPOST("/widgets", func(req *Req, res *Res) {
			var in widget
			if err := req.BindJSON(&in); err != nil {
				res.Reply(400, []byte("bad json"))
				return
			}
			in.Count++
			res.JSON(201, in)
		})
	})
	defer shutdown()

	resp, err := http.Post("http://"+addr+"/widgets", "application/json", strings.NewReader(`{"name":"gear","count":1}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json content type, got %q", ct)
	}
	body := readAll(t, resp)
	if body != `{"name":"gear","count":2}` {
		t.Fatalf("unexpected JSON body: %q", body)
	}
}

func TestServerRedirectSetsLocationHeader(t *testing.T) {
	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterGET("/old", func(req *Req, res *Res) {
			res.Redirect(301, "/new")
		})
	})
	defer shutdown()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get("http://" + addr + "/old")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 301 {
		t.Fatalf("expected 301, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/new" {
		t.Fatalf("expected Location /new, got %q", loc)
	}
}

func TestServerRedirectRejectsCRLFInjection(t *testing.T) {
	addr, shutdown := startTestServer(t, nil, func(s *Server) {
		s.RegisterGET("/bad-redirect", func(req *Req, res *Res) {
			if err := res.Redirect(302, "/x\r\nSet-Cookie: evil=1"); err != ErrInvalidRedirectURL {
				t.Errorf("expected ErrInvalidRedirectURL, got %v", err)
			}
		})
	})
	defer shutdown()

	resp, err := http.Get("http://" + addr + "/bad-redirect")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return b.String()
}
