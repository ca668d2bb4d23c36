package sitesearch

import "strings"

// ParseSearchParams splits a flat parameter map into one map per group.
// A key "<group>.<rest>" is scoped to that group as "<rest>"; every other
// key, including dotted keys whose prefix is not a group, is shared by all
// groups. Group-scoped values win over shared ones. Every group gets a map,
// even when nothing was scoped to it.
func ParseSearchParams(params map[string]any, groups []string) map[string]map[string]any {
	known := make(map[string]bool, len(groups))
	out := make(map[string]map[string]any, len(groups))
	for _, g := range groups {
		known[g] = true
		out[g] = map[string]any{}
	}

	common := map[string]any{}
	for key, value := range params {
		prefix, rest, ok := strings.Cut(key, ".")
		if ok && rest != "" && known[prefix] {
			out[prefix][rest] = value
			continue
		}
		common[key] = value
	}

	for _, g := range groups {
		for key, value := range common {
			if _, ok := out[g][key]; !ok {
				out[g][key] = value
			}
		}
	}
	return out
}
