package chain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// AddressLength is the byte length of an account address.
const AddressLength = 20

var (
	// ErrInvalidAddress indicates a malformed account address
	ErrInvalidAddress = errors.New("invalid address")
)

// ValidAddress reports whether addr is a well-formed 0x-prefixed 20-byte hex
// address.
func ValidAddress(addr string) bool {
	if len(addr) != 2+2*AddressLength || !strings.HasPrefix(addr, "0x") {
		return false
	}
	_, err := hex.DecodeString(addr[2:])
	return err == nil
}

// AddressBytes decodes an address into its 20 raw bytes.
func AddressBytes(addr string) ([]byte, error) {
	if !ValidAddress(addr) {
		return nil, ErrInvalidAddress
	}
	return hex.DecodeString(addr[2:])
}

// AddressFromBytes encodes 20 raw bytes as a 0x-prefixed hex address.
func AddressFromBytes(b []byte) (string, error) {
	if len(b) != AddressLength {
		return "", ErrInvalidAddress
	}
	return "0x" + hex.EncodeToString(b), nil
}

// NewAddress generates a fresh random address. Addresses are the last 20
// bytes of the SHA-256 hash of random seed material, hex encoded with a 0x
// prefix.
func NewAddress() (string, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	hash := sha256.Sum256(seed)
	return AddressFromBytes(hash[len(hash)-AddressLength:])
}
