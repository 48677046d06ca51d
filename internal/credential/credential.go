// Package credential implements the ed25519 signing/verification contract
// of spec.md section 4.1, adapted from the teacher's ed25519-based edge
// device authentication in internal/auth/edge.go (challenge/response TOFU)
// down to the simpler sign/verify/credentials_for_request surface this
// core specifies — no challenge round trip, no device enrollment state.
package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/swarmgate/swarm/internal/swerr"
)

// ErrUnsupportedKeyType is returned by any operation asked to work with a
// key type other than ed25519.
var ErrUnsupportedKeyType = fmt.Errorf("credential: unsupported key type")

const sshAlgoName = "ssh-ed25519"

// DefaultTTL is the proactive-refresh window (spec.md 4.1): holders should
// mint a new credential before this elapses.
const DefaultTTL = 240 * time.Second

// MaxSkew is the server's hard cap on |now - timestamp| (spec.md 4.1 / 8).
const MaxSkew = 300 * time.Second

// Credential owns one ed25519 key-pair and exposes sign/verify plus the
// per-request credential minting operation. Key-pair generation/loading is
// intentionally minimal: the actual key-pair generation *utility* (an
// interactive tool with its own UX) is out of scope per spec.md section 1;
// this type only consumes an already-derived key-pair.
type Credential struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// New wraps an existing ed25519 key-pair.
func New(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Credential {
	return &Credential{public: pub, private: priv}
}

// Generate produces a fresh in-memory ed25519 key-pair. The agent run
// command and the pack example use it for a process-lifetime identity, and
// tests use it directly; it does not write the key-pair to disk.
func Generate() (*Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("credential: generate: %w", err)
	}
	return New(pub, priv), nil
}

// PublicKey returns the raw public key.
func (c *Credential) PublicKey() ed25519.PublicKey { return c.public }

// AuthorizedKeyLine renders the public key in the OpenSSH single-line
// format carried as x-ssh-pubkey (spec.md section 6).
func (c *Credential) AuthorizedKeyLine() (string, error) {
	return PublicKeyLine(c.public)
}

// PublicKeyLine renders any ed25519 public key in OpenSSH authorized_keys
// format, e.g. "ssh-ed25519 AAAAC3Nz...".
func PublicKeyLine(pub ed25519.PublicKey) (string, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("credential: encode public key: %w", err)
	}
	line := ssh.MarshalAuthorizedKey(sshPub)
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return string(line), nil
}

// ParsePublicKeyLine parses the OpenSSH single-line public key format
// carried in the x-ssh-pubkey metadata value, returning the raw ed25519
// key. Any key type other than ed25519 is rejected.
func ParsePublicKeyLine(line string) (ed25519.PublicKey, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return nil, fmt.Errorf("credential: parse public key: %w", err)
	}
	if pub.Type() != sshAlgoName {
		return nil, ErrUnsupportedKeyType
	}
	cryptoPub, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, ErrUnsupportedKeyType
	}
	ed25519Pub, ok := cryptoPub.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, ErrUnsupportedKeyType
	}
	return ed25519Pub, nil
}

// Signature is the base64-encoded SSH wire-format signature blob described
// in spec.md 4.1: 4-byte big-endian algorithm-name length, "ssh-ed25519",
// 4-byte big-endian signature length, the 64-byte raw signature.
type Signature string

// Sign produces the SSH wire-format signature over message.
func (c *Credential) Sign(message []byte) (Signature, error) {
	if len(c.private) != ed25519.PrivateKeySize {
		return "", ErrUnsupportedKeyType
	}
	raw := ed25519.Sign(c.private, message)
	return encodeSignature(raw), nil
}

func encodeSignature(raw []byte) Signature {
	buf := make([]byte, 0, 4+len(sshAlgoName)+4+len(raw))
	buf = appendUint32Prefixed(buf, []byte(sshAlgoName))
	buf = appendUint32Prefixed(buf, raw)
	return Signature(base64.StdEncoding.EncodeToString(buf))
}

func appendUint32Prefixed(buf, field []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(field)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, field...)
	return buf
}

// Verify checks sig over message against pub. Returns false (never an
// error) for any malformed input, per spec.md's bool-returning contract.
func Verify(pub ed25519.PublicKey, sig Signature, message []byte) bool {
	raw, err := decodeSignature(sig)
	if err != nil {
		return false
	}
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, raw)
}

func decodeSignature(sig Signature) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(string(sig))
	if err != nil {
		return nil, err
	}
	algoName, rest, err := readUint32Prefixed(blob)
	if err != nil {
		return nil, err
	}
	if string(algoName) != sshAlgoName {
		return nil, ErrUnsupportedKeyType
	}
	raw, rest, err := readUint32Prefixed(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("credential: trailing bytes in signature blob")
	}
	return raw, nil
}

func readUint32Prefixed(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("credential: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, nil, fmt.Errorf("credential: truncated field")
	}
	return buf[:n], buf[n:], nil
}

// RequestCredentials are the four values sent as authentication metadata
// on every client/pack call (spec.md section 6).
type RequestCredentials struct {
	PublicKeyLine string
	Timestamp     int64
	Nonce         string
	Signature     Signature
}

// CredentialsForRequest mints a fresh, freshly-signed credential. The
// signed message is exactly "{timestamp}|{nonce}" (spec.md 4.1).
func (c *Credential) CredentialsForRequest() (RequestCredentials, error) {
	pubLine, err := c.AuthorizedKeyLine()
	if err != nil {
		return RequestCredentials{}, err
	}
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return RequestCredentials{}, fmt.Errorf("credential: generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)
	ts := time.Now().Unix()
	sig, err := c.Sign(SignedMessage(ts, nonce))
	if err != nil {
		return RequestCredentials{}, err
	}
	return RequestCredentials{
		PublicKeyLine: pubLine,
		Timestamp:     ts,
		Nonce:         nonce,
		Signature:     sig,
	}, nil
}

// SignedMessage builds the exact byte sequence that is signed/verified for
// a given timestamp and nonce: "{timestamp}|{nonce}".
func SignedMessage(timestamp int64, nonce string) []byte {
	return []byte(fmt.Sprintf("%d|%s", timestamp, nonce))
}

// VerifyRequest implements the gateway's verification contract (spec.md
// 4.1): freshness, signature, and replay-guard checks. The replay guard
// itself is supplied by the caller (see ReplayGuard) since it is shared
// gateway-wide state, not per-credential.
func VerifyRequest(creds RequestCredentials, guard *ReplayGuard, now time.Time) error {
	skew := now.Unix() - creds.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > MaxSkew {
		return swerr.New(swerr.Unauthenticated, "credential timestamp outside freshness window")
	}

	pub, err := ParsePublicKeyLine(creds.PublicKeyLine)
	if err != nil {
		return swerr.Wrap(swerr.Unauthenticated, err)
	}

	if !Verify(pub, creds.Signature, SignedMessage(creds.Timestamp, creds.Nonce)) {
		return swerr.New(swerr.Unauthenticated, "signature verification failed")
	}

	if !guard.CheckAndRecord(creds.PublicKeyLine, creds.Nonce, now) {
		return swerr.New(swerr.Unauthenticated, "nonce replayed")
	}

	return nil
}
