package policy

import "strings"

// getNested walks payload by a dotted field path (e.g. "metadata.user.id"),
// returning nil if any intermediate segment isn't a map or is missing.
// Grounded on the original source's utils.get_nested.
func getNested(payload map[string]any, dotted string) any {
	var cur any = payload
	for _, key := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := m[key]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}
