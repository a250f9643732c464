package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// MinPasswordLength is the shortest password accepted on register or change.
const MinPasswordLength = 8

var (
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrMalformedHash    = errors.New("malformed password hash")
)

// hashParams are the Argon2id cost settings recorded in every stored hash.
type hashParams struct {
	memory uint32 // KiB
	passes uint32
	lanes  uint8
	keyLen uint32
}

// currentParams is what new hashes use. Stored hashes with a lower cost are
// upgraded on the next successful login.
var currentParams = hashParams{memory: 64 * 1024, passes: 3, lanes: 1, keyLen: 32}

const saltLen = 16

// ValidatePassword enforces the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// HashPassword returns an Argon2id hash of password in PHC form:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>
func HashPassword(password string) (string, error) {
	return hashWith(password, currentParams)
}

func hashWith(password string, p hashParams) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.passes, p.memory, p.lanes, p.keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.passes, p.lanes,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches a stored hash. The error
// is non-nil only for hashes that cannot be parsed.
func VerifyPassword(password, encodedHash string) (bool, error) {
	h, err := parseHash(encodedHash)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(password), h.salt, h.params.passes, h.params.memory, h.params.lanes, h.params.keyLen)
	return subtle.ConstantTimeCompare(h.key, candidate) == 1, nil
}

// NeedsRehash reports whether a stored hash is cheaper than currentParams.
// Unparseable hashes report false; VerifyPassword rejects them anyway.
func NeedsRehash(encodedHash string) bool {
	h, err := parseHash(encodedHash)
	if err != nil {
		return false
	}
	p := h.params
	return p.memory < currentParams.memory ||
		p.passes < currentParams.passes ||
		p.keyLen < currentParams.keyLen
}

type storedHash struct {
	params hashParams
	salt   []byte
	key    []byte
}

func parseHash(encoded string) (storedHash, error) {
	var h storedHash

	// "", "argon2id", "v=..", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" { //nolint:mnd // PHC field count
		return h, ErrMalformedHash
	}
	if parts[1] != "argon2id" {
		return h, fmt.Errorf("%w: algorithm %q", ErrMalformedHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return h, fmt.Errorf("%w: version: %v", ErrMalformedHash, err) //nolint:errorlint // one %w is enough
	}
	if version != argon2.Version {
		return h, fmt.Errorf("%w: argon2 version %d", ErrMalformedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.params.memory, &h.params.passes, &h.params.lanes); err != nil {
		return h, fmt.Errorf("%w: parameters: %v", ErrMalformedHash, err) //nolint:errorlint // one %w is enough
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(h.key) == 0 {
		return h, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	h.params.keyLen = uint32(len(h.key)) //nolint:gosec // G115: decoded key length is small

	return h, nil
}

// dummyHash is verified against when the account does not exist, so unknown
// identifiers cost the same time as wrong passwords.
var dummyHash = func() string {
	h, err := HashPassword("deckvault-timing-equaliser")
	if err != nil {
		panic(fmt.Sprintf("auth: generating dummy hash: %v", err))
	}
	return h
}()
