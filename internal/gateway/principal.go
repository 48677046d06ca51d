package gateway

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Principal is the identity derived from a verified public key's
// fingerprint (spec.md section 3): stable, immutable once created, with a
// capability set assigned at enrollment.
type Principal struct {
	ID           string
	Fingerprint  string
	Capabilities map[string]struct{}
}

// HasCapability reports whether p was granted cap.
func (p *Principal) HasCapability(cap string) bool {
	_, ok := p.Capabilities[cap]
	return ok
}

// Fingerprint computes the stable short identifier of an ed25519 public key
// used as the principal identity key (spec.md GLOSSARY).
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "SHA256:" + hex.EncodeToString(sum[:16])
}

// defaultCapabilities is granted to every principal enrolled through the
// default, unconfigured enrollment path (spec.md's auth-principals
// component is explicitly "map fingerprint -> principal+capabilities"; this
// core ships the simplest enrollment policy: trust-on-first-use with a
// fixed capability set, since the actual enrollment/authorization policy
// is a deployment concern rather than a core-spec'd algorithm).
var defaultCapabilities = map[string]struct{}{"chat": {}, "base": {}}

// principalRegistry maps a verified fingerprint to its Principal, created
// on first successful authentication and immutable thereafter.
type principalRegistry struct {
	mu         sync.RWMutex
	byFingerprint map[string]*Principal
}

func newPrincipalRegistry() *principalRegistry {
	return &principalRegistry{byFingerprint: make(map[string]*Principal)}
}

// EnrollOrGet returns the existing principal for fingerprint, or creates and
// stores a new one on first sight.
func (r *principalRegistry) EnrollOrGet(fingerprint string) *Principal {
	r.mu.RLock()
	p, ok := r.byFingerprint[fingerprint]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byFingerprint[fingerprint]; ok {
		return p
	}
	caps := make(map[string]struct{}, len(defaultCapabilities))
	for c := range defaultCapabilities {
		caps[c] = struct{}{}
	}
	p = &Principal{ID: fingerprint, Fingerprint: fingerprint, Capabilities: caps}
	r.byFingerprint[fingerprint] = p
	return p
}
