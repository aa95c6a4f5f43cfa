package publisher

import (
	"fmt"
	"path"
	"strings"
)

// KeyStrategy picks the storage key an index is published under.
type KeyStrategy interface {
	KeyFor(requestID string) string
	String() string
}

// SharedKey publishes every request to the same key; the last writer wins.
type SharedKey struct {
	Key string
}

func (s SharedKey) KeyFor(string) string { return s.Key }
func (s SharedKey) String() string       { return "shared(" + s.Key + ")" }

// PerRequestKey publishes each request under <prefix>/<request id>.
type PerRequestKey struct {
	Prefix string
}

func (p PerRequestKey) KeyFor(requestID string) string {
	if p.Prefix == "" {
		return requestID
	}
	return path.Join(p.Prefix, requestID)
}

func (p PerRequestKey) String() string { return "per-request(" + p.Prefix + ")" }

// ParseKeyStrategy resolves a configured strategy name: "shared" or
// "per-request" (the default).
func ParseKeyStrategy(kind, sharedKey, prefix string) (KeyStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "shared":
		if strings.TrimSpace(sharedKey) == "" {
			return nil, fmt.Errorf("shared key strategy needs a key")
		}
		return SharedKey{Key: sharedKey}, nil
	case "per-request", "":
		return PerRequestKey{Prefix: strings.Trim(prefix, "/")}, nil
	default:
		return nil, fmt.Errorf("unknown key strategy %q", kind)
	}
}
