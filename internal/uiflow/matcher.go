package uiflow

// Heuristic DOM discovery is an ordered matcher chain: candidates are
// evaluated lazily, the first success wins, and there is no backtracking.
// The same abstraction serves "find the primary action control" and "find a
// navigation container".

// matcher is one candidate in a priority chain.
type matcher struct {
	name  string
	kind  string // "css" or "text"
	query string
}

// firstMatch walks candidates in order and returns the first one the probe
// accepts, skipping matches rejected by the exclusion predicate. The probe
// returns an opaque handle for the matched element (a selector the caller
// can act on) and whether anything matched.
func firstMatch(candidates []matcher, probe func(matcher) (string, bool), exclude func(string) bool) (matcher, string, bool) {
	if probe == nil {
		return matcher{}, "", false
	}
	for _, c := range candidates {
		handle, ok := probe(c)
		if !ok {
			continue
		}
		if exclude != nil && exclude(handle) {
			continue
		}
		return c, handle, true
	}
	return matcher{}, "", false
}

// primaryActionCandidates is the ordered heuristic for "the control a user
// would press first": form submit controls, conventional test ids, then
// common button labels in English and Chinese.
var primaryActionCandidates = []matcher{
	{name: "submit button", kind: "css", query: `button[type="submit"]`},
	{name: "submit input", kind: "css", query: `input[type="submit"]`},
	{name: "test-id action", kind: "css", query: `[data-testid="submit"], [data-test="submit"], [data-testid="login-button"], [data-testid="primary-button"]`},
	{name: "label Submit", kind: "text", query: "Submit"},
	{name: "label Login", kind: "text", query: "Login"},
	{name: "label Sign in", kind: "text", query: "Sign in"},
	{name: "label Sign up", kind: "text", query: "Sign up"},
	{name: "label Search", kind: "text", query: "Search"},
	{name: "label Save", kind: "text", query: "Save"},
	{name: "label 提交", kind: "text", query: "提交"},
	{name: "label 登录", kind: "text", query: "登录"},
	{name: "label 搜索", kind: "text", query: "搜索"},
	{name: "label 保存", kind: "text", query: "保存"},
}

// mainContentCandidates recognizes a conventional main-content container.
var mainContentCandidates = []matcher{
	{name: "main element", kind: "css", query: "main"},
	{name: "role main", kind: "css", query: `[role="main"]`},
	{name: "root mount", kind: "css", query: "#root"},
	{name: "app mount", kind: "css", query: "#app"},
	{name: "next mount", kind: "css", query: "#__next"},
	{name: "container class", kind: "css", query: ".container"},
	{name: "article", kind: "css", query: "article"},
}

// navContainerGroups is the ordered list of navigation-container selector
// groups scanned for exploratory links.
var navContainerGroups = []string{
	"nav a",
	"header a",
	`[role="navigation"] a`,
	".navbar a",
	".nav a",
	".menu a",
	".sidebar a",
	"aside a",
}
