package checker

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/proxy-scraper-checker/internal/types"
)

func startJudge(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"origin": "6.6.6.6", "headers": {}}`))
	}))
}

// startMockSOCKS5 runs a minimal SOCKS5 server: no-auth negotiation, IPv4
// and domain connects, then a blind pipe to the target. With allow=false it
// rejects every authentication method instead.
func startMockSOCKS5(t *testing.T, allow bool) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSOCKS5(conn, allow)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func serveSOCKS5(conn net.Conn, allow bool) {
	defer conn.Close()

	greeting := make([]byte, 2)
	if _, err := io.ReadFull(conn, greeting); err != nil || greeting[0] != 0x05 {
		return
	}
	methods := make([]byte, int(greeting[1]))
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}

	if !allow {
		conn.Write([]byte{0x05, 0xFF})
		return
	}
	conn.Write([]byte{0x05, 0x00})

	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil || head[1] != 0x01 {
		return
	}

	var host string
	switch head[3] {
	case 0x01:
		addr := make([]byte, 4)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return
		}
		host = net.IP(addr).String()
	case 0x03:
		length := make([]byte, 1)
		if _, err := io.ReadFull(conn, length); err != nil {
			return
		}
		name := make([]byte, int(length[0]))
		if _, err := io.ReadFull(conn, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return
	}
	port := int(portBuf[0])<<8 | int(portBuf[1])

	target, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer target.Close()

	conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

	go io.Copy(target, conn)
	io.Copy(conn, target)
}

// startMockSOCKS4 runs a minimal SOCKS4 server: parse the connect request,
// grant it, pipe to the target.
func startMockSOCKS4(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSOCKS4(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func serveSOCKS4(conn net.Conn) {
	defer conn.Close()

	head := make([]byte, 8)
	if _, err := io.ReadFull(conn, head); err != nil || head[0] != 0x04 || head[1] != 0x01 {
		return
	}

	// Null-terminated user id
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(conn, one); err != nil {
			return
		}
		if one[0] == 0x00 {
			break
		}
	}

	port := int(head[2])<<8 | int(head[3])
	host := net.IPv4(head[4], head[5], head[6], head[7]).String()

	target, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		conn.Write([]byte{0x00, 0x5B, 0, 0, 0, 0, 0, 0})
		return
	}
	defer target.Close()

	conn.Write([]byte{0x00, 0x5A, head[2], head[3], head[4], head[5], head[6], head[7]})

	go io.Copy(target, conn)
	io.Copy(conn, target)
}

func TestCheckSOCKS5Working(t *testing.T) {
	judge := startJudge(t)
	defer judge.Close()

	ln := startMockSOCKS5(t, true)

	chk := newTestChecker(2000, judge.URL)
	cand := types.NewCandidate(ln.Addr().String())
	result := chk.Check(context.Background(), cand, types.ProtocolSOCKS5)

	if result.Outcome != types.OutcomeWorking {
		t.Fatalf("Expected working outcome, got %s (%s)", result.Outcome, result.Error)
	}
	if result.Echo == nil || result.Echo.Origin != "6.6.6.6" {
		t.Errorf("Expected the judge echo to flow through the tunnel, got %+v", result.Echo)
	}
}

func TestCheckSOCKS5Rejected(t *testing.T) {
	judge := startJudge(t)
	defer judge.Close()

	ln := startMockSOCKS5(t, false)

	chk := newTestChecker(2000, judge.URL)
	cand := types.NewCandidate(ln.Addr().String())
	result := chk.Check(context.Background(), cand, types.ProtocolSOCKS5)

	if result.Outcome == types.OutcomeWorking {
		t.Error("Expected a rejected handshake to fail the check")
	}
}

func TestCheckSOCKS4Working(t *testing.T) {
	judge := startJudge(t)
	defer judge.Close()

	ln := startMockSOCKS4(t)

	chk := newTestChecker(2000, judge.URL)
	cand := types.NewCandidate(ln.Addr().String())
	result := chk.Check(context.Background(), cand, types.ProtocolSOCKS4)

	if result.Outcome != types.OutcomeWorking {
		t.Fatalf("Expected working outcome, got %s (%s)", result.Outcome, result.Error)
	}
	if result.Echo == nil || result.Echo.Origin != "6.6.6.6" {
		t.Errorf("Expected the judge echo to flow through the tunnel, got %+v", result.Echo)
	}
}

func TestCheckSOCKS4AgainstPlainHTTPServer(t *testing.T) {
	// A plain HTTP server is not a SOCKS4 proxy; the handshake must fail.
	judge := startJudge(t)
	defer judge.Close()

	notAProxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer notAProxy.Close()

	chk := newTestChecker(500, judge.URL)
	result := chk.Check(context.Background(), proxyAddr(t, notAProxy), types.ProtocolSOCKS4)

	if result.Outcome == types.OutcomeWorking {
		t.Error("Expected the SOCKS4 check against an HTTP server to fail")
	}
}
