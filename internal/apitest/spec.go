package apitest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxEndpoints caps how many (method, path) pairs are extracted from a
// discovered API description.
const maxEndpoints = 10

// remoteSpecPaths are the well-known locations probed for a machine-readable
// API description, in order; discovery short-circuits on the first valid one.
var remoteSpecPaths = []string{
	"/openapi.json",
	"/swagger.json",
	"/openapi.yaml",
	"/api/openapi.json",
	"/api-docs",
	"/v3/api-docs",
}

// localSpecPaths are file locations relative to the project root, tried when
// no remote description answered.
var localSpecPaths = []string{
	"openapi.json",
	"openapi.yaml",
	"openapi.yml",
	"swagger.json",
	filepath.Join("docs", "openapi.json"),
	filepath.Join("api", "openapi.json"),
}

// fallbackEndpoints is the fixed convention list used when no API
// description is found anywhere.
var fallbackEndpoints = []Endpoint{
	{Method: http.MethodGet, Path: "/health"},
	{Method: http.MethodGet, Path: "/api/health"},
	{Method: http.MethodGet, Path: "/api/status"},
	{Method: http.MethodGet, Path: "/api/version"},
	{Method: http.MethodGet, Path: "/"},
}

// methodOrder fixes the per-path extraction order so endpoint lists are
// deterministic regardless of document map ordering.
var methodOrder = []string{"get", "post", "put", "patch", "delete", "head", "options"}

// Endpoint is one probe candidate.
type Endpoint struct {
	Method string
	Path   string
}

// discoverEndpoints locates an API description (remote well-known paths
// first, then local files) and extracts probe candidates from it. The
// returned source is "openapi" when a description was found, "fallback"
// otherwise.
func discoverEndpoints(ctx context.Context, client *http.Client, baseURL, projectDir string, timeout time.Duration) ([]Endpoint, string) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")

	for _, p := range remoteSpecPaths {
		data, ok := fetchSpec(ctx, client, base+p, timeout)
		if !ok {
			continue
		}
		if doc, valid := parseSpec(data); valid {
			if eps := extractEndpoints(doc); len(eps) > 0 {
				return eps, "openapi"
			}
		}
	}

	if dir := strings.TrimSpace(projectDir); dir != "" {
		for _, p := range localSpecPaths {
			data, err := os.ReadFile(filepath.Join(dir, p))
			if err != nil {
				continue
			}
			if doc, valid := parseSpec(data); valid {
				if eps := extractEndpoints(doc); len(eps) > 0 {
					return eps, "openapi"
				}
			}
		}
	}

	return fallbackEndpoints, "fallback"
}

func fetchSpec(ctx context.Context, client *http.Client, endpoint string, timeout time.Duration) ([]byte, bool) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Accept", "application/json, application/yaml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, false
	}
	return data, true
}

// parseSpec accepts JSON or YAML and reports whether the document carries a
// recognizable schema marker (an openapi or swagger version field).
func parseSpec(data []byte) (map[string]any, bool) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		doc = nil
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, false
		}
	}
	if doc == nil {
		return nil, false
	}
	if _, ok := doc["openapi"]; ok {
		return doc, true
	}
	if _, ok := doc["swagger"]; ok {
		return doc, true
	}
	return nil, false
}

// extractEndpoints pulls up to maxEndpoints (method, path) pairs from the
// description, deterministically ordered with GET operations before all
// others (stable otherwise).
func extractEndpoints(doc map[string]any) []Endpoint {
	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Endpoint
	for _, path := range keys {
		item, ok := paths[path].(map[string]any)
		if !ok {
			continue
		}
		for _, m := range methodOrder {
			if _, ok := item[m]; !ok {
				continue
			}
			out = append(out, Endpoint{Method: strings.ToUpper(m), Path: path})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Method == http.MethodGet && out[j].Method != http.MethodGet
	})

	if len(out) > maxEndpoints {
		out = out[:maxEndpoints]
	}
	return out
}
