// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package credential

import (
	"crypto/md5" //nolint:gosec // legacy scheme compatibility only
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"sort"
	"strings"

	"golang.org/x/crypto/argon2"
)

// LegacyVerifier checks a plaintext password against a hash produced by a
// legacy authentication system.
type LegacyVerifier func(hash, password string) bool

// LegacyRegistry maps scheme names to verifiers. Schemes are added by
// registration, not subclassing; names are case-insensitive.
type LegacyRegistry struct {
	schemes map[string]LegacyVerifier
}

// NewLegacyRegistry creates a registry with all built-in schemes registered.
func NewLegacyRegistry() *LegacyRegistry {
	r := &LegacyRegistry{schemes: make(map[string]LegacyVerifier)}
	r.Register("AUTHME", verifyAuthMe)
	r.Register("AUTHME_NP", verifyAuthMeNP)
	r.Register("ARGON2", verifyArgon2)
	r.Register("SHA512_DBA", verifySHA512DBA)
	r.Register("SHA512_NP", verifySHA512NP)
	r.Register("SHA512_P", verifySHA512P)
	r.Register("SHA256_NP", verifySHA256NP)
	r.Register("SHA256_P", verifySHA256P)
	r.Register("MD5", verifyMD5)
	r.Register("MOON_SHA256", verifyMoonSHA256)
	r.Register("SHA256_NO_SALT", verifySHA256NoSalt)
	r.Register("SHA512_NO_SALT", verifySHA512NoSalt)
	r.Register("SHA512_P_REVERSED_HASH", verifySHA512PReversed)
	r.Register("SHA512_NLOGIN", verifySHA512NLogin)
	r.Register("CRC32C", verifyCRC32C)
	r.Register("PLAINTEXT", verifyPlaintext)
	return r
}

// Register adds or replaces a scheme.
func (r *LegacyRegistry) Register(name string, v LegacyVerifier) {
	r.schemes[strings.ToUpper(name)] = v
}

// Get returns the verifier for a scheme name.
func (r *LegacyRegistry) Get(name string) (LegacyVerifier, bool) {
	v, ok := r.schemes[strings.ToUpper(name)]
	return v, ok
}

// Names returns all registered scheme names, sorted.
func (r *LegacyRegistry) Names() []string {
	names := make([]string, 0, len(r.schemes))
	for name := range r.schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func hexDigest(newHash func() hash.Hash, s string) string {
	h := newHash()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Hex(s string) string { return hexDigest(sha256.New, s) }
func sha512Hex(s string) string { return hexDigest(sha512.New, s) }

// AuthMe default: $SHA$salt$hash = sha256(sha256(password) + salt).
func verifyAuthMe(hash, password string) bool {
	args := strings.Split(hash, "$") // {"", "SHA", salt, hash}
	return len(args) == 4 && args[3] == sha256Hex(sha256Hex(password)+args[2])
}

// AuthMe variant without leading $: SHA$salt$hash.
func verifyAuthMeNP(hash, password string) bool {
	args := strings.Split(hash, "$") // {"SHA", salt, hash}
	return len(args) == 3 && args[2] == sha256Hex(sha256Hex(password)+args[1])
}

// DBA/JPremium: SHA$salt$hash = sha512(sha512(password) + salt).
func verifySHA512DBA(hash, password string) bool {
	args := strings.Split(hash, "$")
	return len(args) == 3 && args[2] == sha512Hex(sha512Hex(password)+args[1])
}

// SHA$salt$hash = sha512(password + salt).
func verifySHA512NP(hash, password string) bool {
	args := strings.Split(hash, "$")
	return len(args) == 3 && args[2] == sha512Hex(password+args[1])
}

// $SHA$salt$hash = sha512(password + salt).
func verifySHA512P(hash, password string) bool {
	args := strings.Split(hash, "$")
	return len(args) == 4 && args[3] == sha512Hex(password+args[2])
}

// SHA$salt$hash = sha256(password + salt).
func verifySHA256NP(hash, password string) bool {
	args := strings.Split(hash, "$")
	return len(args) == 3 && args[2] == sha256Hex(password+args[1])
}

// $SHA$salt$hash = sha256(password + salt).
func verifySHA256P(hash, password string) bool {
	args := strings.Split(hash, "$")
	return len(args) == 4 && args[3] == sha256Hex(password+args[2])
}

func verifyMD5(hash, password string) bool {
	return hash == hexDigest(md5.New, password)
}

// Moon: $SHA$hash = sha256(sha256(password)).
func verifyMoonSHA256(hash, password string) bool {
	args := strings.Split(hash, "$") // {"", "SHA", hash}
	return len(args) == 3 && args[2] == sha256Hex(sha256Hex(password))
}

// NexAuth: $SHA$hash = sha256(password).
func verifySHA256NoSalt(hash, password string) bool {
	args := strings.Split(hash, "$")
	return len(args) == 3 && args[2] == sha256Hex(password)
}

// NexAuth: $SHA$hash = sha512(password).
func verifySHA512NoSalt(hash, password string) bool {
	args := strings.Split(hash, "$")
	return len(args) == 3 && args[2] == sha512Hex(password)
}

// nLogin variant: $SHA$hash$salt = sha512(password + salt).
func verifySHA512PReversed(hash, password string) bool {
	args := strings.Split(hash, "$") // {"", "SHA", hash, salt}
	return len(args) == 4 && args[2] == sha512Hex(password+args[3])
}

// nLogin default: $SHA$hash$salt = sha512(sha512(password) + salt).
func verifySHA512NLogin(hash, password string) bool {
	args := strings.Split(hash, "$")
	return len(args) == 4 && args[2] == sha512Hex(sha512Hex(password)+args[3])
}

// Bare CRC32C checksum, hex-encoded little-endian to match the common
// migration source format.
func verifyCRC32C(hash, password string) bool {
	sum := crc32.Checksum([]byte(password), crc32.MakeTable(crc32.Castagnoli))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], sum)
	return hash == hex.EncodeToString(buf[:])
}

func verifyPlaintext(hash, password string) bool {
	return hash == password
}

// PHC-format argon2 verification. Supports argon2id and argon2i; malformed
// hashes and unsupported variants verify as false.
func verifyArgon2(encodedHash, password string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}

	variant := parts[1]
	if variant != "argon2id" && variant != "argon2i" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}
	if threads == 0 || threads > 255 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	keyLen := len(expected)
	if keyLen <= 0 || keyLen > 1<<30 {
		return false
	}

	var computed []byte
	if variant == "argon2id" {
		computed = argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen))
	} else {
		computed = argon2.Key([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen))
	}

	return subtle.ConstantTimeCompare(computed, expected) == 1
}
