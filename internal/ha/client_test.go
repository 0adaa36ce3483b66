package ha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAddonLifecycle(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("missing bearer token")
		}
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/addons/core_mosquitto/info" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"slug": "core_mosquitto", "name": "Mosquitto", "state": "started",
					"version": "6.4.0", "cpu_percent": 0.3, "memory_percent": 1.2,
				},
			})
			return
		}
		w.Write([]byte(`{"result":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, "test-token", 5*time.Second)

	info, err := c.AddonInfoFor(context.Background(), "core_mosquitto")
	if err != nil {
		t.Fatalf("AddonInfoFor: %v", err)
	}
	if info.State != "started" || info.Name != "Mosquitto" {
		t.Errorf("info = %+v", info)
	}

	if err := c.RestartAddon(context.Background(), "core_mosquitto"); err != nil {
		t.Fatalf("RestartAddon: %v", err)
	}
	if err := c.ReloadAutomations(context.Background()); err != nil {
		t.Fatalf("ReloadAutomations: %v", err)
	}

	want := []string{
		"GET /addons/core_mosquitto/info",
		"POST /addons/core_mosquitto/restart",
		"POST /core/api/services/automation/reload",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestUnconfiguredSupervisor(t *testing.T) {
	c := New("", "", time.Second)
	if c.Configured() {
		t.Error("unconfigured client reported configured")
	}
	if err := c.RestartAddon(context.Background(), "x"); err == nil {
		t.Error("expected error from unconfigured client")
	}
}
