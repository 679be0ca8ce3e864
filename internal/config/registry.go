package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/knadh/koanf/v2"
)

// ConfigKeyInfo describes a known configuration key.
type ConfigKeyInfo struct {
	Key         string // Full path, e.g. "auth.signingKey"
	Description string
	Type        string // "string", "int", "bool", "duration", "[]string"
	Default     any
}

var (
	registry   = make(map[string]ConfigKeyInfo)
	registryMu sync.RWMutex
)

// RegisterConfigKeys records known keys. Later registrations replace earlier
// ones with the same key.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// LookupConfigKey returns metadata for a registered key.
func LookupConfigKey(key string) (ConfigKeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// AllRegisteredKeys returns registered keys in sorted order.
func AllRegisteredKeys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyDefaults sets the registered default of every key that is not already
// present in k.
func ApplyDefaults(k *koanf.Koanf) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for key, info := range registry {
		if info.Default != nil && !k.Exists(key) {
			_ = k.Set(key, info.Default)
		}
	}
}

// FindSimilarKeys returns up to maxResults registered keys within a small edit
// distance of key, closest first. Keys in the same namespace get a bonus.
func FindSimilarKeys(key string, maxResults int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}
	var candidates []scored
	prefix := getPrefix(key)
	for registered := range registry {
		if registered == key {
			continue
		}
		score := levenshtein.ComputeDistance(key, registered)
		if prefix != "" && prefix == getPrefix(registered) && score > 0 {
			score--
		}
		if score <= 3 {
			candidates = append(candidates, scored{registered, score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	out := make([]string, 0, maxResults)
	for i := 0; i < len(candidates) && i < maxResults; i++ {
		out = append(out, candidates[i].key)
	}
	return out
}

func getPrefix(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		return key[:i]
	}
	return ""
}

func hasRegisteredPrefix(key string) bool {
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i > 0; i-- {
		if _, ok := LookupConfigKey(strings.Join(parts[:i], ".")); ok {
			return true
		}
	}
	return false
}
