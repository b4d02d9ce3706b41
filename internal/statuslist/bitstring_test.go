package statuslist

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// =============================================================================
// Bitstring Test Suite
// =============================================================================

type BitstringSuite struct {
	suite.Suite
}

func TestBitstringSuite(t *testing.T) {
	suite.Run(t, new(BitstringSuite))
}

func (s *BitstringSuite) TestNewBitstring() {
	s.Run("rejects non-positive sizes", func() {
		_, err := NewBitstring(0)
		s.Error(err)
		_, err = NewBitstring(-8)
		s.Error(err)
	})

	s.Run("rejects sizes not divisible by 8", func() {
		_, err := NewBitstring(131073)
		s.Error(err)
	})

	s.Run("allocates all-zero bits", func() {
		bits, err := NewBitstring(MinCapacityBits)
		s.Require().NoError(err)
		s.Equal(MinCapacityBits, bits.Len())
		for _, idx := range []int{0, 1, 7, 8, MinCapacityBits - 1} {
			v, err := bits.Get(idx)
			s.NoError(err)
			s.False(v)
		}
	})
}

func (s *BitstringSuite) TestSetGet() {
	bits, err := NewBitstring(64)
	s.Require().NoError(err)

	s.Run("set then get round-trips", func() {
		s.NoError(bits.Set(0, true))
		s.NoError(bits.Set(9, true))
		s.NoError(bits.Set(63, true))

		for idx, want := range map[int]bool{0: true, 1: false, 9: true, 10: false, 63: true} {
			got, err := bits.Get(idx)
			s.NoError(err)
			s.Equal(want, got, "index %d", idx)
		}
	})

	s.Run("index 0 is the leftmost bit of the first byte", func() {
		fresh, err := NewBitstring(8)
		s.Require().NoError(err)
		s.NoError(fresh.Set(0, true))
		s.Equal(byte(0x80), fresh.bits[0])
	})

	s.Run("clearing a set bit works", func() {
		s.NoError(bits.Set(9, false))
		v, err := bits.Get(9)
		s.NoError(err)
		s.False(v)
	})

	s.Run("out of range indices error", func() {
		s.Error(bits.Set(-1, true))
		s.Error(bits.Set(64, true))
		_, err := bits.Get(64)
		s.Error(err)
	})
}

func (s *BitstringSuite) TestEncodeDecode() {
	s.Run("encode then decode preserves every bit", func() {
		bits, err := NewBitstring(MinCapacityBits)
		s.Require().NoError(err)
		setIndices := []int{0, 1, 5, 4096, 131071}
		for _, idx := range setIndices {
			s.Require().NoError(bits.Set(idx, true))
		}

		encoded, err := bits.Encode()
		s.Require().NoError(err)
		s.NotContains(encoded, "=")

		decoded, err := DecodeBitstring(encoded)
		s.Require().NoError(err)
		s.Equal(MinCapacityBits, decoded.Len())
		for _, idx := range setIndices {
			v, err := decoded.Get(idx)
			s.NoError(err)
			s.True(v, "index %d", idx)
		}
		v, err := decoded.Get(2)
		s.NoError(err)
		s.False(v)
	})

	s.Run("decode rejects garbage", func() {
		_, err := DecodeBitstring("not base64url !!")
		s.Error(err)
	})

	s.Run("all-ones bitstring survives the round trip", func() {
		bits, err := NewBitstring(256)
		s.Require().NoError(err)
		for i := 0; i < 256; i++ {
			s.Require().NoError(bits.Set(i, true))
		}
		encoded, err := bits.Encode()
		s.Require().NoError(err)
		decoded, err := DecodeBitstring(encoded)
		s.Require().NoError(err)
		for i := 0; i < 256; i++ {
			v, err := decoded.Get(i)
			s.NoError(err)
			s.True(v)
		}
	})
}
