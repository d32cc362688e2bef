package eventauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// Argon2Params configures the slow hash
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params returns the production hashing cost
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2Params) validate() error {
	if p.Memory < minMemoryKB {
		return errors.New("argon2 memory must be >= 8192 KiB")
	}
	if p.Time < minTimeCost {
		return errors.New("argon2 time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("argon2 parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return errors.New("argon2 salt length must be >= 16")
	}
	if p.KeyLength < minKeyLength {
		return errors.New("argon2 key length must be >= 16")
	}
	return nil
}

// CredentialHasher derives and verifies stored password hashes
type CredentialHasher interface {
	Derive(password string) (string, error)
	Verify(password, storedHash string) bool
}

// Hasher pre-hashes passwords with a server-side pepper and then applies
// salted argon2id.
//
// The argon2 input is SHA-256(password || pepper), so its length is fixed and a
// leaked hash table is useless without the pepper.
type Hasher struct {
	pepper []byte
	params Argon2Params
}

// NewHasher creates a Hasher. The pepper must be non-empty and identical
// across every process that verifies the same hashes.
func NewHasher(pepper string, params Argon2Params) (*Hasher, error) {
	if pepper == "" {
		return nil, errors.New("password pepper is required")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Hasher{pepper: []byte(pepper), params: params}, nil
}

func (h *Hasher) prehash(password string) []byte {
	digest := sha256.New()
	digest.Write([]byte(password))
	digest.Write(h.pepper)
	return digest.Sum(nil)
}

// Derive returns a PHC encoded argon2id hash of the password
func (h *Hasher) Derive(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(h.prehash(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches storedHash. Malformed hashes simply
// do not match.
func (h *Hasher) Verify(password, storedHash string) bool {
	parsed, err := parsePHC(storedHash)
	if err != nil {
		return false
	}
	computed := argon2.IDKey(h.prehash(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(computed, parsed.key) == 1
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, errors.New("unsupported argon2 version")
	}

	var out parsedPHC
	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return nil, errors.New("invalid parameter format")
	}
	for _, param := range params {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return nil, errors.New("invalid memory parameter")
			}
			out.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || uint32(v) < minTimeCost {
				return nil, errors.New("invalid time parameter")
			}
			out.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return nil, errors.New("invalid parallelism parameter")
			}
			out.parallelism = uint8(v)
		default:
			return nil, errors.New("unsupported parameter")
		}
	}
	if out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return nil, errors.New("missing parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < int(minKeyLength) {
		return nil, errors.New("invalid hash")
	}
	out.salt = salt
	out.key = key
	return &out, nil
}
