package uiflow

import (
	"net/url"
	"strings"
)

// maxNavLinks caps how many exploratory navigation targets are collected.
const maxNavLinks = 3

// selectNavLinks filters raw hrefs collected from a navigation container
// into exploratory targets: same-origin, non-anchor, non-script, in
// encounter order, excluding the site root itself, capped at maxNavLinks.
// Returned links are absolute URLs.
func selectNavLinks(base *url.URL, hrefs []string) []string {
	if base == nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			continue
		}

		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != base.Scheme || abs.Host != base.Host {
			continue
		}
		if isRootOf(base, abs) {
			continue
		}

		key := abs.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
		if len(out) == maxNavLinks {
			break
		}
	}
	return out
}

func isRootOf(base, u *url.URL) bool {
	p := strings.TrimRight(u.Path, "/")
	bp := strings.TrimRight(base.Path, "/")
	return p == bp && u.RawQuery == "" && u.Fragment == ""
}
