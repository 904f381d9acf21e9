// Package fingerprint computes the content hash used for bronze-layer
// deduplication and silver-layer upsert guards.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/oddsync/oddsync/internal/domain"
)

// Compute returns the fingerprint of a payload together with its logical
// identity key. The digest is stable under JSON key reordering and
// whitespace differences: the document is decoded and re-encoded before
// hashing, and encoding/json emits object keys in sorted order.
//
// Two semantically identical payloads therefore always produce the same
// fingerprint, and any content change produces a different one.
func Compute(source domain.Source, logicalID string, payload json.RawMessage) (domain.Fingerprint, error) {
	canon, err := canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize %s/%s: %w", source, logicalID, err)
	}

	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(logicalID))
	h.Write([]byte{0})
	h.Write(canon)

	return domain.Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// canonicalize round-trips the document through interface values so that
// object keys come out sorted and insignificant whitespace is dropped.
func canonicalize(payload json.RawMessage) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
