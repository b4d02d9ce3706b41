package statuslist

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// MinCapacityBits is the minimum decompressed size of a bitstring status
// list required by the W3C Bitstring Status List specification (16 KiB).
const MinCapacityBits = 131072

// Bitstring is a fixed-size bit array backing one status list. Index 0 is
// the leftmost bit of the first byte, per the W3C bitstring expansion
// algorithm.
type Bitstring struct {
	bits []byte
	size int
}

// NewBitstring allocates an all-zero bitstring of sizeBits bits.
func NewBitstring(sizeBits int) (*Bitstring, error) {
	if sizeBits <= 0 || sizeBits%8 != 0 {
		return nil, fmt.Errorf("bitstring size must be a positive multiple of 8, got %d", sizeBits)
	}
	return &Bitstring{bits: make([]byte, sizeBits/8), size: sizeBits}, nil
}

// Len returns the size in bits.
func (b *Bitstring) Len() int { return b.size }

// Get returns the bit at index.
func (b *Bitstring) Get(index int) (bool, error) {
	if index < 0 || index >= b.size {
		return false, fmt.Errorf("bitstring index %d out of range [0,%d)", index, b.size)
	}
	return b.bits[index/8]>>(7-index%8)&1 == 1, nil
}

// Set writes the bit at index.
func (b *Bitstring) Set(index int, value bool) error {
	if index < 0 || index >= b.size {
		return fmt.Errorf("bitstring index %d out of range [0,%d)", index, b.size)
	}
	mask := byte(1) << (7 - index%8)
	if value {
		b.bits[index/8] |= mask
	} else {
		b.bits[index/8] &^= mask
	}
	return nil
}

// Encode gzip-compresses the bit array and encodes it as base64url without
// padding, the encodedList representation of the status list credential.
func (b *Bitstring) Encode() (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(b.bits); err != nil {
		return "", fmt.Errorf("compress bitstring: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("compress bitstring: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeBitstring reverses Encode.
func DecodeBitstring(encoded string) (*Bitstring, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode bitstring: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompress bitstring: %w", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress bitstring: %w", err)
	}
	return &Bitstring{bits: raw, size: len(raw) * 8}, nil
}
