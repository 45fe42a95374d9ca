package cache

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// hashText computes an FNV-1a hash of the trimmed, lower-cased text.
// Empty strings are valid and hash to a fixed value.
func hashText(text string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(text))))
	return fmt.Sprintf("%016x", h.Sum64())
}

// formatTemperature renders a temperature with fixed two-decimal precision so
// 0.7 and 0.70 map to the same key.
func formatTemperature(t float64) string {
	return fmt.Sprintf("%.2f", t)
}

// DeriveKey builds the cache key for a request. Prompt and context are
// normalized before hashing; the model identifier is used verbatim. Equal
// normalized inputs always yield equal keys.
func DeriveKey(prompt, context, model string, temperature float64) string {
	return keyFromHashes(hashText(prompt), hashText(context), model, temperature)
}

// keyFromHashes assembles a key from precomputed component hashes. Import
// uses this to rebuild keys without re-hashing entry text.
func keyFromHashes(promptHash, contextHash, model string, temperature float64) string {
	return promptHash + ":" + contextHash + ":" + model + ":" + formatTemperature(temperature)
}
