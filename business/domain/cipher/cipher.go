// Package cipher implements the lightweight reversible block transform used to turn merchant
// identifiers into opaque tokens. It is a toy ARX cipher modeled after SPECK and offers no
// real confidentiality: tokens are keyed with the merchant identifier they carry, which is
// public. There is no authentication tag either, so a corrupted token decodes to a wrong but
// well formed string.
package cipher

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"math/bits"
	"strings"

	"github.com/paynet/bank-gateway/entities"
	"github.com/pkg/errors"
)

const (
	KeySize   = 16
	BlockSize = 8
	Rounds    = 20
)

type Cipher struct {
	keyWords [KeySize / 4]uint32
}

// New pads the key with '0' characters, or truncates it, to KeySize bytes.
func New(key string) *Cipher {
	padded := []byte(key)
	if len(padded) < KeySize {
		padded = append(padded, bytes.Repeat([]byte{'0'}, KeySize-len(padded))...)
	}
	padded = padded[:KeySize]

	var c Cipher
	for i := range c.keyWords {
		c.keyWords[i] = binary.LittleEndian.Uint32(padded[i*4:])
	}
	return &c
}

// Encode encrypts the zero padded plaintext and renders it as standard base64.
func (c *Cipher) Encode(plaintext string) string {
	data := []byte(plaintext)
	if rem := len(data) % BlockSize; rem != 0 {
		data = append(data, make([]byte, BlockSize-rem)...)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		x := binary.LittleEndian.Uint32(data[i:])
		y := binary.LittleEndian.Uint32(data[i+4:])
		x, y = c.encryptBlock(x, y)
		binary.LittleEndian.PutUint32(out[i:], x)
		binary.LittleEndian.PutUint32(out[i+4:], y)
	}
	return base64.StdEncoding.EncodeToString(out)
}

// Decode reverses Encode. It only fails on structurally malformed tokens.
func (c *Cipher) Decode(token string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", errors.Wrap(&entities.Error{Kind: entities.ErrDecode, Message: "malformed token encoding"}, err.Error())
	}
	if len(data)%BlockSize != 0 {
		return "", entities.NewError(entities.ErrDecode, "token length [%d] is not a multiple of [%d]", len(data), BlockSize)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		x := binary.LittleEndian.Uint32(data[i:])
		y := binary.LittleEndian.Uint32(data[i+4:])
		x, y = c.decryptBlock(x, y)
		binary.LittleEndian.PutUint32(out[i:], x)
		binary.LittleEndian.PutUint32(out[i+4:], y)
	}
	return strings.ToValidUTF8(string(bytes.TrimRight(out, "\x00")), ""), nil
}

// only the first key word takes part in the rounds; the rest of the schedule is unused.
func (c *Cipher) encryptBlock(x, y uint32) (uint32, uint32) {
	k := c.keyWords[0]
	for range Rounds {
		x = bits.RotateLeft32(x, -8) + y
		x ^= k
		y = bits.RotateLeft32(y, 3) ^ x
	}
	return x, y
}

func (c *Cipher) decryptBlock(x, y uint32) (uint32, uint32) {
	k := c.keyWords[0]
	for range Rounds {
		y ^= x
		y = bits.RotateLeft32(y, -3)
		x ^= k
		x -= y
		x = bits.RotateLeft32(x, 8)
	}
	return x, y
}

func Encode(key, plaintext string) string {
	return New(key).Encode(plaintext)
}

func Decode(key, token string) (string, error) {
	return New(key).Decode(token)
}
