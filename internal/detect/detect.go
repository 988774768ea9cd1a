// Package detect inspects a project directory and guesses how to start it.
// The heuristics are deliberately shallow: when nothing recognizable is
// found the result signals needs-config instead of guessing further.
package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RunSpec is what detection hands to the pipeline: either a launchable
// command or a needs-config signal with a remediation hint.
type RunSpec struct {
	Command     string
	Args        []string
	Dir         string
	Env         map[string]string
	Port        int
	NeedsConfig bool
	Hint        string
}

// Project inspects dir and returns a RunSpec. Recognized layouts, in order:
// package.json scripts, go.mod, Django manage.py, single python entry
// points, single node entry points.
func Project(dir string) RunSpec {
	dir = strings.TrimSpace(dir)
	spec := RunSpec{Dir: dir}
	if dir == "" {
		spec.NeedsConfig = true
		spec.Hint = "detect: empty project directory"
		return spec
	}

	if s, ok := fromPackageJSON(dir); ok {
		return s
	}
	if exists(dir, "go.mod") {
		spec.Command = "go"
		spec.Args = []string{"run", "."}
		spec.Port = sniffPort(dir, 8080)
		return spec
	}
	if exists(dir, "manage.py") {
		port := sniffPort(dir, 8000)
		spec.Command = "python3"
		spec.Args = []string{"manage.py", "runserver", fmt.Sprintf("127.0.0.1:%d", port)}
		spec.Port = port
		return spec
	}
	for _, entry := range []string{"app.py", "main.py"} {
		if exists(dir, entry) {
			spec.Command = "python3"
			spec.Args = []string{entry}
			spec.Port = sniffPort(dir, 5000)
			return spec
		}
	}
	for _, entry := range []string{"server.js", "index.js"} {
		if exists(dir, entry) {
			spec.Command = "node"
			spec.Args = []string{entry}
			spec.Port = sniffPort(dir, 3000)
			return spec
		}
	}

	spec.NeedsConfig = true
	spec.Hint = "detect: no package manifest or recognizable entry point; supply an explicit start command and port"
	return spec
}

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

func fromPackageJSON(dir string) (RunSpec, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return RunSpec{}, false
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return RunSpec{
			Dir:         dir,
			NeedsConfig: true,
			Hint:        fmt.Sprintf("detect: unparseable package.json: %v", err),
		}, true
	}

	spec := RunSpec{Dir: dir, Port: sniffPort(dir, 3000)}
	switch {
	case strings.TrimSpace(pkg.Scripts["dev"]) != "":
		spec.Command = "npm"
		spec.Args = []string{"run", "dev"}
	case strings.TrimSpace(pkg.Scripts["start"]) != "":
		spec.Command = "npm"
		spec.Args = []string{"start"}
	default:
		spec.NeedsConfig = true
		spec.Hint = "detect: package.json has no dev or start script; supply an explicit start command"
	}
	return spec, true
}

// sniffPort reads a PORT assignment from the project's .env file, falling
// back to the framework default.
func sniffPort(dir string, fallback int) int {
	data, err := os.ReadFile(filepath.Join(dir, ".env"))
	if err != nil {
		return fallback
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "PORT=") {
			continue
		}
		if p, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(line, "PORT="), `"' `)); err == nil && p > 0 {
			return p
		}
	}
	return fallback
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
