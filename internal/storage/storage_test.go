package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/proxy-scraper-checker/internal/types"
)

func TestFileStorageRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "snapshot.json")
	store, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}
	defer store.Close()

	now := time.Now().Truncate(time.Second)
	snap := &types.Snapshot{
		Proxies: []types.Proxy{
			{Address: "1.1.1.1:80", Protocol: "http", Anonymity: "elite", LatencyMs: 120, LastCheck: now},
			{Address: "2.2.2.2:1080", Protocol: "socks5", Country: "Norway", LastCheck: now},
		},
		Stats:   types.Stats{TotalWorking: 2, Candidates: 50},
		Updated: now,
	}

	if err := store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected a snapshot, got nil")
	}

	if len(loaded.Proxies) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(loaded.Proxies))
	}
	if loaded.Proxies[0].Address != "1.1.1.1:80" || loaded.Proxies[0].Anonymity != "elite" {
		t.Errorf("Unexpected first entry: %+v", loaded.Proxies[0])
	}
	if loaded.Proxies[1].Country != "Norway" {
		t.Errorf("Expected geo data to survive the roundtrip: %+v", loaded.Proxies[1])
	}
	if loaded.Stats.TotalWorking != 2 || loaded.Stats.Candidates != 50 {
		t.Errorf("Unexpected stats: %+v", loaded.Stats)
	}
	if !loaded.Updated.Equal(now) {
		t.Errorf("Expected updated time %v, got %v", now, loaded.Updated)
	}
}

func TestFileStorageLoadMissing(t *testing.T) {
	store, err := NewFileStorage(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Expected no error for a missing file, got %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected nil for a missing file, got %+v", loaded)
	}
}

func TestFileStorageLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	store, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}
	if _, err := store.Load(); err == nil {
		t.Fatal("Expected an error for a corrupt file")
	}
}

func TestFileStorageOverwrites(t *testing.T) {
	store, err := NewFileStorage(filepath.Join(t.TempDir(), "snapshot.json"))
	if err != nil {
		t.Fatalf("NewFileStorage failed: %v", err)
	}

	first := &types.Snapshot{Proxies: []types.Proxy{{Address: "1.1.1.1:80", Protocol: "http"}}}
	second := &types.Snapshot{Proxies: []types.Proxy{
		{Address: "2.2.2.2:80", Protocol: "http"},
		{Address: "3.3.3.3:80", Protocol: "http"},
	}}

	if err := store.Save(first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := store.Save(second); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Proxies) != 2 || loaded.Proxies[0].Address != "2.2.2.2:80" {
		t.Errorf("Expected the second snapshot to replace the first, got %+v", loaded.Proxies)
	}
}

func TestNewStorageUnknownType(t *testing.T) {
	if _, err := NewStorage("etcd", "somewhere"); err == nil {
		t.Fatal("Expected an error for an unknown storage type")
	}
}

func TestNewStorageFile(t *testing.T) {
	store, err := NewStorage("file", filepath.Join(t.TempDir(), "snap.json"))
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	if _, ok := store.(*FileStorage); !ok {
		t.Errorf("Expected a FileStorage, got %T", store)
	}
}
