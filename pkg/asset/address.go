package asset

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// AddressLength is the size of an account identifier in bytes.
const AddressLength = 20

var ErrInvalidAddress = errors.New("invalid address")

// Address identifies an account: a user, a vault, a strategy or a fee sink.
// The zero value is the null address.
type Address [AddressLength]byte

// ParseAddress decodes a 40 hex digit address with or without the 0x prefix.
// Mixed-case input must carry a valid checksum.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 2*AddressLength {
		return a, errors.Wrapf(ErrInvalidAddress, "%q: want %d hex digits", s, 2*AddressLength)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return a, errors.Wrapf(ErrInvalidAddress, "%q", s)
	}
	copy(a[:], b)
	if raw != strings.ToLower(raw) && raw != strings.ToUpper(raw) && a.Hex()[2:] != raw {
		return Address{}, errors.Wrapf(ErrInvalidAddress, "%q: bad checksum", s)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// DeriveAddress maps a human readable label to a deterministic address, the
// last 20 bytes of keccak256(label).
func DeriveAddress(label string) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(label))
	sum := h.Sum(nil)
	var a Address
	copy(a[:], sum[len(sum)-AddressLength:])
	return a
}

func (a Address) IsZero() bool { return a == Address{} }

// Hex returns the EIP-55 checksummed form.
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

func (a Address) String() string { return a.Hex() }

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
