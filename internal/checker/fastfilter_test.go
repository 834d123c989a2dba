package checker

import (
	"context"
	"net"
	"testing"
)

func TestFastConnectFilterKeepsLiveHosts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
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

	live := ln.Addr().String()
	addresses := []string{live, "127.0.0.1:1"}

	kept := FastConnectFilter(context.Background(), addresses, 500, 4)

	if len(kept) != 1 {
		t.Fatalf("Expected 1 connectable address, got %d: %v", len(kept), kept)
	}
	if kept[0] != live {
		t.Errorf("Expected %s to survive the filter, got %s", live, kept[0])
	}
}

func TestFastConnectFilterEmptyInput(t *testing.T) {
	kept := FastConnectFilter(context.Background(), nil, 500, 4)
	if len(kept) != 0 {
		t.Errorf("Expected no addresses, got %v", kept)
	}
}

func TestFastConnectFilterCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	kept := FastConnectFilter(ctx, []string{"127.0.0.1:1", "127.0.0.1:2"}, 500, 2)
	if len(kept) != 0 {
		t.Errorf("Expected a cancelled sweep to keep nothing, got %v", kept)
	}
}
