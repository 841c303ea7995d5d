package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ineiti/fledger-sub002/internal/nodeid"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected miss on unset key")
	}
	if err := m.Set("a", []byte("one")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok := m.Get("a")
	if !ok || string(v) != "one" {
		t.Fatalf("expected %q, got %q (ok=%v)", "one", v, ok)
	}
	if err := m.Remove("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected miss after remove")
	}
}

func TestFilePersistsAcrossInstances(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")

	first, err := NewFile(dir, "one")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := first.Set("two", []byte("three")); err != nil {
		t.Fatalf("set: %v", err)
	}

	second, err := NewFile(dir, "one")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	v, ok := second.Get("two")
	if !ok || string(v) != "three" {
		t.Fatalf("expected value to survive across instances, got %q (ok=%v)", v, ok)
	}
}

func TestFileUsesDefaultPrefixWhenBaseEmpty(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := f.Set("key", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fledger_key")); err != nil {
		t.Fatalf("expected default-prefixed file, stat error: %v", err)
	}
}

func TestFileRemoveOfMissingKeyIsNotAnError(t *testing.T) {
	f, err := NewFile(t.TempDir(), "base")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := f.Remove("never-set"); err != nil {
		t.Fatalf("expected no error removing an absent key, got %v", err)
	}
}

func TestNodeConfigRoundTrip(t *testing.T) {
	store := NewMemory()
	signer, err := nodeid.NewEd25519Signer()
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	cfg := nodeid.NewConfig("node-a", nodeid.ModulePing, "realm-1", signer)

	if err := SaveNodeConfig(store, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := LoadNodeConfig(store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected a config to be found")
	}
	if loaded.Info.ID != cfg.Info.ID || loaded.Info.Name != cfg.Info.Name || loaded.Info.Realm != cfg.Info.Realm {
		t.Fatalf("loaded config does not match saved config: %+v vs %+v", loaded.Info, cfg.Info)
	}
	if err := loaded.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadNodeConfigReportsMissing(t *testing.T) {
	store := NewMemory()
	_, ok, err := LoadNodeConfig(store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected no config to be found in an empty store")
	}
}
