package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// stableHash hex-encodes the sha-256 digest of data's canonical JSON form.
// Grounded on the original source's services/utils.py::stable_hash, which
// relies on json.dumps(data, sort_keys=True); encoding/json does not sort
// map keys on its own, so canonicalize first.
func stableHash(data map[string]any) string {
	canon := canonicalize(data)
	buf, err := json.Marshal(canon)
	if err != nil {
		// canonicalize only ever produces JSON-safe values, so this is
		// unreachable in practice.
		panic(fmt.Sprintf("decision: marshal canonical hash input: %v", err))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// canonicalize rewrites maps into ordered key/value pairs so their JSON
// encoding is deterministic, recursing through slices and nested maps.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]orderedPair, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, orderedPair{Key: k, Value: canonicalize(t[k])})
		}
		return orderedMap(pairs)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

type orderedPair struct {
	Key   string
	Value any
}

// orderedMap marshals as a JSON object whose keys appear in the given order,
// standing in for Python's sort_keys=True dict encoding.
type orderedMap []orderedPair

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, p := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
