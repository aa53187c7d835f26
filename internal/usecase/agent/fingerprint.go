package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/kailas-cloud/voxdex/internal/domain"
)

// Fingerprint returns a stable digest of a tool call: name plus
// canonicalized arguments. Two calls with the same semantics produce the
// same fingerprint even when the model orders JSON keys differently.
func Fingerprint(call domain.ToolCall) string {
	h := sha256.New()
	h.Write([]byte(call.Name))
	h.Write([]byte{0})
	h.Write(canonicalArgs(call.Args))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalArgs re-marshals the arguments so object keys come out sorted.
// Non-JSON arguments are digested as raw bytes.
func canonicalArgs(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return canon
}
