package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestProcessDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FILESSH_DATA_PATH", dir)
	t.Setenv("FILESSH_WORKERS", "8")
	t.Setenv("FILESSH_CONNECT_TIMEOUT", "3s")

	var s Settings
	if err := Process(&s); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if s.Workers != 8 {
		t.Errorf("Workers = %d, want 8", s.Workers)
	}
	if s.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %s", s.ConnectTimeout)
	}
	if s.KeepaliveInterval != 30*time.Second {
		t.Errorf("KeepaliveInterval = %s", s.KeepaliveInterval)
	}
	if s.ListingErrorThreshold != 32 {
		t.Errorf("ListingErrorThreshold = %d", s.ListingErrorThreshold)
	}
	if s.DownloadMaxDepth != -1 {
		t.Errorf("DownloadMaxDepth = %d, want -1 (unbounded)", s.DownloadMaxDepth)
	}
	if s.DefaultUser != "root" {
		t.Errorf("DefaultUser = %q", s.DefaultUser)
	}
	if s.LogPath != filepath.Join(dir, "filessh.log") {
		t.Errorf("LogPath = %q", s.LogPath)
	}
	if s.DatabasePath != filepath.Join(dir, "filessh.db") {
		t.Errorf("DatabasePath = %q", s.DatabasePath)
	}
	if s.ProfilesPath != filepath.Join(dir, "profiles.yaml") {
		t.Errorf("ProfilesPath = %q", s.ProfilesPath)
	}
}

func TestProcessRejectsBadValues(t *testing.T) {
	t.Setenv("FILESSH_WORKERS", "many")
	var s Settings
	if err := Process(&s); err == nil {
		t.Fatal("expected an error for a non-numeric worker count")
	}
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := `profiles:
  web:
    host: web.example.com
    port: 2222
    user: deploy
    key: /keys/web
    path: /var/www
  bare:
    host: 10.0.0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	web, ok := profiles["web"]
	if !ok {
		t.Fatal("profile web missing")
	}
	if web.Host != "web.example.com" || web.Port != 2222 || web.User != "deploy" || web.Path != "/var/www" {
		t.Errorf("unexpected web profile: %+v", web)
	}
	if profiles["bare"].Port != 0 {
		t.Errorf("bare port = %d, want 0 before resolving", profiles["bare"].Port)
	}
}

func TestLoadProfilesMissingFile(t *testing.T) {
	profiles, err := LoadProfiles(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("expected no profiles, got %d", len(profiles))
	}
}

func TestLoadProfilesInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte("profiles: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfiles(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestWriteDefaultProfilesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.yaml")
	if err := WriteDefaultProfiles(path); err != nil {
		t.Fatalf("WriteDefaultProfiles: %v", err)
	}
	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if profiles["example"].Host != "example.com" {
		t.Errorf("example profile = %+v", profiles["example"])
	}
	if err := WriteDefaultProfiles(path); err == nil {
		t.Error("expected refusal to overwrite")
	}
}

func TestProfileMergeAndResolve(t *testing.T) {
	base := Profile{Host: "a.example", Port: 2200, User: "alice", Key: "/k"}
	merged := base.Merge(Profile{Host: "b.example", Path: "/srv"})
	if merged.Host != "b.example" || merged.Port != 2200 || merged.User != "alice" || merged.Path != "/srv" {
		t.Errorf("Merge = %+v", merged)
	}

	resolved, err := Profile{Host: "h", Key: "/k"}.Resolve("root")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Port != 22 || resolved.User != "root" {
		t.Errorf("defaults not applied: %+v", resolved)
	}

	if _, err := (Profile{Key: "/k"}).Resolve("root"); err == nil || !strings.Contains(err.Error(), "missing host") {
		t.Errorf("expected missing host error, got %v", err)
	}
	if _, err := (Profile{Host: "h"}).Resolve("root"); err == nil || !strings.Contains(err.Error(), "private key") {
		t.Errorf("expected missing key error, got %v", err)
	}
	if _, err := (Profile{Host: "h", Key: "/k", Port: 70000}).Resolve("root"); err == nil {
		t.Error("expected invalid port error")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.ssh/id"); got != filepath.Join(home, ".ssh", "id") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/key"); got != "/abs/key" {
		t.Errorf("ExpandHome(abs) = %q", got)
	}
}
