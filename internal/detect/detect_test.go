package detect

import (
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile %s: %v", name, err)
	}
}

func TestProject_PackageJSONDevScript(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"scripts":{"dev":"vite","start":"node server.js"}}`)

	spec := Project(dir)
	if spec.NeedsConfig {
		t.Fatalf("NeedsConfig: %s", spec.Hint)
	}
	if spec.Command != "npm" || len(spec.Args) != 2 || spec.Args[1] != "dev" {
		t.Fatalf("command: got %s %v", spec.Command, spec.Args)
	}
	if spec.Port != 3000 {
		t.Fatalf("port: got %d", spec.Port)
	}
}

func TestProject_EnvPortOverride(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"scripts":{"start":"node ."}}`)
	write(t, dir, ".env", "DEBUG=1\nPORT=4321\n")

	spec := Project(dir)
	if spec.Port != 4321 {
		t.Fatalf("port: got %d, want 4321", spec.Port)
	}
	if spec.Args[0] != "start" {
		t.Fatalf("args: got %v", spec.Args)
	}
}

func TestProject_GoModule(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "go.mod", "module demo\n")

	spec := Project(dir)
	if spec.Command != "go" || spec.Port != 8080 {
		t.Fatalf("spec: got %s %v port %d", spec.Command, spec.Args, spec.Port)
	}
}

func TestProject_NothingRecognizable(t *testing.T) {
	spec := Project(t.TempDir())
	if !spec.NeedsConfig {
		t.Fatalf("NeedsConfig: expected true")
	}
	if spec.Hint == "" {
		t.Fatalf("Hint: empty")
	}
}

func TestProject_PackageJSONWithoutScripts(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"name":"x"}`)

	spec := Project(dir)
	if !spec.NeedsConfig {
		t.Fatalf("NeedsConfig: expected true for script-less package.json")
	}
}
