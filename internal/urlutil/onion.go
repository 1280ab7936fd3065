package urlutil

import (
	"encoding/base32"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// onionSuffix is the top-level domain of Tor onion services.
const onionSuffix = ".onion"

// onionV3Version is the version byte at the end of a v3 address.
const onionV3Version = 0x03

// Onion host errors.
var (
	// ErrInvalidOnionHost is returned for .onion hosts that are not valid v3
	// addresses.
	ErrInvalidOnionHost = errors.New("invalid onion address")

	// ErrOnionV2 is returned for v2 addresses, which stopped working in
	// October 2021.
	ErrOnionV2 = errors.New("v2 onion addresses are deprecated and no longer functional")
)

var (
	onionV3Pattern = regexp.MustCompile(`^([a-z0-9-]+\.)*[a-z2-7]{56}\.onion$`)
	onionV2Pattern = regexp.MustCompile(`^([a-z0-9-]+\.)*[a-z2-7]{16}\.onion$`)
)

// onionChecksumPrefix is hashed in front of the key when computing the
// checksum of a v3 address.
var onionChecksumPrefix = []byte(".onion checksum")

// IsOnion reports whether host is in the .onion domain. Such hosts are only
// reachable through Tor.
func IsOnion(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), onionSuffix)
}

// CheckOnionHost verifies the v3 checksum of an onion host as returned by
// Host. Subdomains of an onion address are accepted.
func CheckOnionHost(host string) error {
	host = strings.ToLower(host)
	if !onionV3Pattern.MatchString(host) {
		if onionV2Pattern.MatchString(host) {
			return ErrOnionV2
		}
		return ErrInvalidOnionHost
	}

	labels := strings.Split(strings.TrimSuffix(host, onionSuffix), ".")
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(labels[len(labels)-1]))
	if err != nil || len(decoded) != 35 {
		return ErrInvalidOnionHost
	}

	// pubkey (32) | checksum (2) | version (1)
	pubkey, checksum, version := decoded[:32], decoded[32:34], decoded[34]
	if version != onionV3Version {
		return ErrInvalidOnionHost
	}
	want := onionChecksum(pubkey, version)
	if checksum[0] != want[0] || checksum[1] != want[1] {
		return ErrInvalidOnionHost
	}
	return nil
}

// onionChecksum returns the first two bytes of
// SHA3-256(".onion checksum" || pubkey || version).
func onionChecksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(onionChecksumPrefix)+len(pubkey)+1)
	data = append(data, onionChecksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)

	sum := sha3.Sum256(data)
	return sum[:2]
}
