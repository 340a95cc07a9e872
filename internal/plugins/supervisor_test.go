package plugins

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func newTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	reg, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewSupervisor(reg), dir
}

func writeManifest(t *testing.T, dir, id string, m Manifest) {
	t.Helper()
	pluginDir := filepath.Join(dir, id)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	data := `{"name":"` + m.Name + `","start":"` + m.Start + `"`
	if m.Port != 0 {
		data += `,"port":` + itoaTest(m.Port)
	}
	data += "}"
	if err := os.WriteFile(filepath.Join(pluginDir, manifestFilename), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestListSkipsDirectoriesWithoutManifest(t *testing.T) {
	sup, dir := newTestSupervisor(t)
	writeManifest(t, dir, "has-manifest", Manifest{Name: "Has Manifest", Start: "true"})
	if err := os.MkdirAll(filepath.Join(dir, "no-manifest"), 0o755); err != nil {
		t.Fatal(err)
	}

	list, err := sup.Registry().List(sup.IsRunning)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != "has-manifest" {
		t.Fatalf("expected only the manifest-bearing plugin, got %+v", list)
	}
}

// TestLaunchMissingPluginFails reproduces the seed scenario "local intent:
// start missing plugin" at the Supervisor layer — launching an id with no
// installed directory fails cleanly rather than panicking, which lets the
// caller (the Agent Loop's local-intent handler) fall back to install.
func TestLaunchMissingPluginFails(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	_, err := sup.Launch(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected an error launching an uninstalled plugin")
	}
}

func TestLaunchThenIsRunningThenStop(t *testing.T) {
	sup, dir := newTestSupervisor(t)
	writeManifest(t, dir, "sleeper", Manifest{Name: "Sleeper", Start: "sleep 30"})

	res, err := sup.Launch(context.Background(), "sleeper")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if res.Status != ResultOK || res.PID == 0 {
		t.Fatalf("unexpected launch result: %+v", res)
	}

	if !sup.IsRunning("sleeper") {
		t.Fatal("expected sleeper to report running immediately after launch")
	}

	second, err := sup.Launch(context.Background(), "sleeper")
	if err != nil {
		t.Fatalf("second Launch: %v", err)
	}
	if second.Status != ResultAlreadyRunning {
		t.Fatalf("expected already_running, got %+v", second)
	}

	stopRes, err := sup.Stop(context.Background(), "sleeper")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopRes.Status != ResultOK {
		t.Fatalf("unexpected stop result: %+v", stopRes)
	}
	if sup.IsRunning("sleeper") {
		t.Fatal("expected sleeper to report stopped after Stop")
	}
}

func TestSharedPortNeverAttributedToEitherPlugin(t *testing.T) {
	sup, dir := newTestSupervisor(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	writeManifest(t, dir, "a", Manifest{Name: "A", Start: "true", Port: port})
	writeManifest(t, dir, "b", Manifest{Name: "B", Start: "true", Port: port})

	// Neither has an in-memory handle or PID file; a real listener is on the
	// port both declare, so only the uniqueness check keeps either from
	// claiming it.
	if sup.IsRunning("a") || sup.IsRunning("b") {
		t.Fatal("expected a shared listening port to be attributed to neither plugin")
	}
}

func TestRemoveRejectsPathTraversal(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if _, err := sup.Remove(context.Background(), "../escape"); err == nil {
		t.Fatal("expected path-traversal id to be rejected")
	}
}

func TestInstallRejectsShellMetacharacters(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if _, err := sup.Install(context.Background(), "evil; rm -rf /"); err == nil {
		t.Fatal("expected shell-metacharacter source to be rejected")
	}
}

func TestInstallBuiltinWritesInlineFiles(t *testing.T) {
	sup, dir := newTestSupervisor(t)
	res, err := sup.Install(context.Background(), "builtin:ai-fast-api")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if res.Status != ResultOK || res.PluginID != "ai-fast-api" {
		t.Fatalf("unexpected install result: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "ai-fast-api", manifestFilename)); err != nil {
		t.Fatalf("expected manifest written: %v", err)
	}
}
