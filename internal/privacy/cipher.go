package privacy

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

// Ciphertext prefixes recognized during mixed-mode reads. Fernet tokens
// always begin with the version byte 0x80, which base64-encodes to
// "gAAAAA". A historical bug double-encoded tokens before storing them;
// "Z0FBQUFB" is the base64 encoding of "gAAAAA" itself.
const (
	tokenPrefix       = "gAAAAA"
	legacyTokenPrefix = "Z0FBQUFB"
)

// defaultKDFSalt keeps derived keys stable across deployments that never
// set KEY_DERIVATION_SALT. The salt is not secret (the operator passphrase
// is); it only prevents trivially precomputed keys.
const defaultKDFSalt = "sisters_kdf_salt_v1"

const kdfIterations = 100_000

// Cipher encrypts sensitive field values with Fernet (AES-128-CBC + HMAC)
// and produces deterministic salted hashes of user identifiers for index
// lookup. Decryption fails open: a value that cannot be decrypted is
// returned unchanged so old or foreign rows stay servable.
type Cipher struct {
	key       *fernet.Key
	keys      []*fernet.Key
	hashSalt  []byte
	ephemeral bool
	onFailure func()
}

// NewCipher builds a cipher from operator key material. A 44-character
// source is treated as an encoded Fernet key and used directly; anything
// else is stretched with PBKDF2-SHA256. An empty source generates an
// ephemeral key, which makes every restart lose access to previously
// written ciphertext - acceptable for development only.
func NewCipher(keySource, hashSalt, kdfSalt string) (*Cipher, error) {
	key, ephemeral, err := resolveKey(strings.TrimSpace(keySource), kdfSalt)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		log.Printf("privacy: ENCRYPTION_KEY not set - generated ephemeral key (NOT FOR PRODUCTION)")
		log.Printf("privacy: persist this key or data written now becomes unreadable after restart: %s", key.Encode())
	}
	if strings.TrimSpace(hashSalt) == "" {
		return nil, fmt.Errorf("identifier hash salt must not be empty")
	}
	return &Cipher{
		key:       key,
		keys:      []*fernet.Key{key},
		hashSalt:  []byte(hashSalt),
		ephemeral: ephemeral,
	}, nil
}

func resolveKey(keySource, kdfSalt string) (*fernet.Key, bool, error) {
	if keySource == "" {
		key := &fernet.Key{}
		if err := key.Generate(); err != nil {
			return nil, false, fmt.Errorf("generate ephemeral key: %w", err)
		}
		return key, true, nil
	}
	// An encoded Fernet key is exactly 44 base64 characters. Anything that
	// fails to decode falls through to derivation, matching how existing
	// deployments treat arbitrary passphrases.
	if len(keySource) == 44 {
		if key, err := fernet.DecodeKey(keySource); err == nil {
			return key, false, nil
		}
	}
	if kdfSalt == "" {
		kdfSalt = defaultKDFSalt
	}
	derived := pbkdf2.Key([]byte(keySource), []byte(kdfSalt), kdfIterations, 32, sha256.New)
	key := &fernet.Key{}
	copy(key[:], derived)
	return key, false, nil
}

// Ephemeral reports whether the key was generated at startup rather than
// configured. Surfaced on /readyz so the degraded mode is visible.
func (c *Cipher) Ephemeral() bool { return c.ephemeral }

// SetFailureHook installs a callback invoked on every decryption failure.
func (c *Cipher) SetFailureHook(hook func()) { c.onFailure = hook }

// Encrypt produces a Fernet token for plaintext. Empty input is returned
// unchanged: encrypting "" would spend an authentication tag for no
// secrecy and break equality checks on unset values.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt reverses Encrypt, accepting both recognized token encodings.
// Input that carries no recognized prefix, or that fails authentication,
// is returned unchanged so mixed-mode reads never crash a session.
func (c *Cipher) Decrypt(ciphertext string) string {
	if ciphertext == "" {
		return ciphertext
	}
	switch {
	case strings.HasPrefix(ciphertext, legacyTokenPrefix):
		inner, err := base64.URLEncoding.DecodeString(ciphertext)
		if err != nil {
			c.decryptFailed("legacy token is not valid base64")
			return ciphertext
		}
		if msg := fernet.VerifyAndDecrypt(inner, 0, c.keys); msg != nil {
			return string(msg)
		}
		c.decryptFailed("legacy token failed verification")
		return ciphertext
	case strings.HasPrefix(ciphertext, tokenPrefix):
		if msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, c.keys); msg != nil {
			return string(msg)
		}
		c.decryptFailed("token failed verification")
		return ciphertext
	default:
		// No recognized prefix: legacy plaintext, pass through.
		return ciphertext
	}
}

func (c *Cipher) decryptFailed(reason string) {
	log.Printf("privacy: decrypt failed (%s), returning stored value unchanged", reason)
	if c.onFailure != nil {
		c.onFailure()
	}
}

// IsEncrypted reports whether value carries one of the two recognized
// ciphertext prefixes.
func (c *Cipher) IsEncrypted(value string) bool {
	return strings.HasPrefix(value, tokenPrefix) || strings.HasPrefix(value, legacyTokenPrefix)
}

// EncryptIfNeeded encrypts value unless it already is a recognized token.
func (c *Cipher) EncryptIfNeeded(value string) (string, error) {
	if c.IsEncrypted(value) {
		return value, nil
	}
	return c.Encrypt(value)
}

// DecryptIfNeeded decrypts value only when it looks like ciphertext.
func (c *Cipher) DecryptIfNeeded(value string) string {
	if !c.IsEncrypted(value) {
		return value
	}
	return c.Decrypt(value)
}

// EncryptJSON serializes v and encrypts the result.
func (c *Cipher) EncryptJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal for encryption: %w", err)
	}
	return c.Encrypt(string(raw))
}

// DecryptJSON decrypts and deserializes a stored JSON value. Values that
// were never encrypted are parsed directly; values that parse as neither
// come back as the raw string.
func (c *Cipher) DecryptJSON(value string) any {
	if value == "" {
		return nil
	}
	decrypted := c.DecryptIfNeeded(value)
	var out any
	if err := json.Unmarshal([]byte(decrypted), &out); err != nil {
		return decrypted
	}
	return out
}

// HashIdentifier normalizes a user identifier and returns its salted
// SHA-256 digest as a 64-character hex string. Deterministic for the life
// of the salt, so it is usable as a unique index without storing the
// identifier in clear.
func (c *Cipher) HashIdentifier(identifier string) string {
	if identifier == "" {
		return identifier
	}
	normalized := NormalizeIdentifier(identifier)
	h := sha256.New()
	h.Write(c.hashSalt)
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeIdentifier strips whitespace and separator characters and
// enforces the canonical leading "+".
func NormalizeIdentifier(identifier string) string {
	n := strings.TrimSpace(identifier)
	n = strings.ReplaceAll(n, " ", "")
	n = strings.ReplaceAll(n, "-", "")
	if n != "" && !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	return n
}

// IsIdentifierHash reports whether value has the shape HashIdentifier
// produces: exactly 64 hex characters.
func IsIdentifierHash(value string) bool {
	if len(value) != 64 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
