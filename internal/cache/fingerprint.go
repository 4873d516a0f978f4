package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Version is mixed into every fingerprint. Bump it to invalidate all entries
// after a change to how results are produced.
const Version = "v1.0"

// FingerprintInput is everything that determines a page's result.
type FingerprintInput struct {
	ImageHash      string            `json:"image_hash"`
	Provider       string            `json:"provider"`
	Params         map[string]string `json:"params,omitempty"`
	PreprocessMode string            `json:"preprocess_mode"`
	Terminology    string            `json:"terminology,omitempty"`
}

// Fingerprint returns the hex SHA-256 digest of in. Map keys are serialized in
// sorted order, so equal inputs always produce equal fingerprints.
func Fingerprint(in FingerprintInput) string {
	payload := struct {
		Version string `json:"version"`
		FingerprintInput
	}{Version: Version, FingerprintInput: in}

	data, err := json.Marshal(payload)
	if err != nil {
		// Only strings are marshalled; this cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashTerms digests a term list independent of order and duplicates. An
// empty list hashes to the empty string.
func HashTerms(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(terms))
	uniq := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		uniq = append(uniq, t)
	}
	if len(uniq) == 0 {
		return ""
	}
	sort.Strings(uniq)
	return HashBytes([]byte(strings.Join(uniq, "\n")))
}
