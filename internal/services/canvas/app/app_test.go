package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testManifest = `{
  "width": 8,
  "height": 8,
  "administrator": "ed25519:admin",
  "award": {"policy": "decay", "base_cred": 100, "decay_factor": 10}
}`

func writeFixtures(t *testing.T) Config {
	t.Helper()

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "genesis.json")
	if err := os.WriteFile(manifestPath, []byte(testManifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	public, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyPath := filepath.Join(dir, "grant.pub")
	encoded := base64.StdEncoding.EncodeToString(public)
	if err := os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	return Config{
		Addr:          "127.0.0.1:0",
		DSN:           "memory:",
		GenesisPath:   manifestPath,
		GrantKeyPath:  keyPath,
		GrantIssuer:   "tessella",
		GrantAudience: "canvas",
	}
}

func TestRunStartsAndStopsCleanly(t *testing.T) {
	cfg := writeFixtures(t)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- Run(ctx, cfg)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestRunFailsWithoutManifest(t *testing.T) {
	cfg := writeFixtures(t)
	cfg.GenesisPath = filepath.Join(t.TempDir(), "missing.json")

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for a missing manifest")
	}
}

func TestRunFailsWithBadGrantKey(t *testing.T) {
	cfg := writeFixtures(t)
	badKey := filepath.Join(t.TempDir(), "grant.pub")
	if err := os.WriteFile(badKey, []byte("not-a-key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	cfg.GrantKeyPath = badKey

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for a malformed grant key")
	}
}
