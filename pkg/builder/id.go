package builder

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/kode4food/tartan/pkg/api"
)

// NewRunID generates a unique run ID with a readable prefix. The prefix is
// sanitized so the result is always accepted by StartRun
func NewRunID(prefix string) api.RunID {
	prefix = api.SanitizeID(prefix)
	suffix := randomHex(6)
	if prefix == "" {
		return api.RunID(suffix)
	}
	return api.RunID(prefix + "-" + suffix)
}

func randomHex(length int) string {
	bytes := make([]byte, (length+1)/2)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)[:length]
}
