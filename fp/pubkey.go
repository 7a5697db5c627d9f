package fp

import (
	"encoding/hex"
	"errors"
	"strings"
)

// PubKeyLength length of a validator public key in bytes.
const PubKeyLength = 48

// PubKey is the opaque 48-byte identifier of a staking validator.
type PubKey [PubKeyLength]byte

// String implements stringer.
func (p PubKey) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// Bytes returns byte slice form of the key.
func (p PubKey) Bytes() []byte {
	return p[:]
}

// IsZero returns if the key is all zero bytes.
func (p PubKey) IsZero() bool {
	return p == PubKey{}
}

// ParsePubKey converts a string presented key into PubKey type.
func ParsePubKey(s string) (*PubKey, error) {
	if len(s) == PubKeyLength*2 {
	} else if len(s) == PubKeyLength*2+2 {
		if strings.ToLower(s[:2]) != "0x" {
			return nil, errors.New("invalid prefix")
		}
		s = s[2:]
	} else {
		return nil, errors.New("invalid length")
	}

	var key PubKey
	if _, err := hex.Decode(key[:], []byte(s)); err != nil {
		return nil, err
	}
	return &key, nil
}

// BytesToPubKey converts a byte slice into PubKey.
// It returns an error unless b is exactly PubKeyLength bytes.
func BytesToPubKey(b []byte) (PubKey, error) {
	if len(b) != PubKeyLength {
		return PubKey{}, errors.New("invalid public key length")
	}
	var key PubKey
	copy(key[:], b)
	return key, nil
}
