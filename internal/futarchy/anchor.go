package futarchy

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
)

const discriminatorLen = 8

func discriminator(namespace, name string) [discriminatorLen]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [discriminatorLen]byte
	copy(d[:], sum[:discriminatorLen])
	return d
}

func instructionDiscriminator(name string) [discriminatorLen]byte {
	return discriminator("global", name)
}

func accountDiscriminator(name string) [discriminatorLen]byte {
	return discriminator("account", name)
}

// encodeInstruction returns the discriminator for name followed by the Borsh
// encoding of args. A nil args encodes the discriminator alone.
func encodeInstruction(name string, args any) ([]byte, error) {
	d := instructionDiscriminator(name)
	buf := bytes.NewBuffer(d[:])
	if args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
			return nil, fmt.Errorf("futarchy: encode %s args: %w", name, err)
		}
	}
	return buf.Bytes(), nil
}

// decodeAccount checks the account discriminator for name and decodes the
// remaining bytes into v.
func decodeAccount(name string, data []byte, v any) error {
	want := accountDiscriminator(name)
	if len(data) < discriminatorLen || !bytes.Equal(data[:discriminatorLen], want[:]) {
		return fmt.Errorf("futarchy: account is not a %s", name)
	}
	if err := bin.NewBorshDecoder(data[discriminatorLen:]).Decode(v); err != nil {
		return fmt.Errorf("futarchy: decode %s: %w", name, err)
	}
	return nil
}

// encodeAccount is the inverse of decodeAccount.
func encodeAccount(name string, v any) ([]byte, error) {
	d := accountDiscriminator(name)
	buf := bytes.NewBuffer(d[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("futarchy: encode %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// U128 is an unsigned 128-bit integer laid out little-endian, low word first,
// which is the Borsh encoding of u128.
type U128 struct {
	Lo uint64
	Hi uint64
}

// U128FromBig converts a non-negative integer that fits in 128 bits.
func U128FromBig(v *big.Int) (U128, error) {
	if v.Sign() < 0 || v.BitLen() > 128 {
		return U128{}, fmt.Errorf("futarchy: %s does not fit in u128", v)
	}
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(v, mask).Uint64()
	hi := new(big.Int).Rsh(v, 64).Uint64()
	return U128{Lo: lo, Hi: hi}, nil
}

// Big returns u as a big.Int.
func (u U128) Big() *big.Int {
	v := new(big.Int).SetUint64(u.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(u.Lo))
}

// IsZero reports whether u is zero.
func (u U128) IsZero() bool { return u.Lo == 0 && u.Hi == 0 }

func (u U128) String() string { return u.Big().String() }
