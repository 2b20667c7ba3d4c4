package e2e

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestServiceReloadPicksUpNewRules(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	slackURL, _ := startFakeSlack(t)

	base := sensuConfigTOML(port, slackURL, "[ingest.nats]\nenabled = false")
	reloading := strings.Replace(base, "reload_enabled = false", "reload_enabled = true\nreload_interval_sec = 1", 1)
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte(reloading), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()
	waitReady(t, port)

	code, _ := postSensuAlert(t, port, "new-token", "CheckDisk ERROR: / 95% full", "")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before reload, got %d", code)
	}

	rotated := strings.Replace(reloading, `token = "12345"`, `token = "new-token"`, 1)
	if err := os.WriteFile(configPath, []byte(rotated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	waitFor(t, 8*time.Second, func() bool {
		code, _ := postSensuAlert(t, port, "new-token", "CheckDisk ERROR: / 95% full", "?debug=1")
		return code == http.StatusOK
	})

	cancel()
	waitServiceStop(t, done)
}
