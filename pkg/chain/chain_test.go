package chain_test

import (
	"testing"

	"agora/pkg/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	clock := chain.NewCounter(100)
	assert.Equal(t, uint64(100), clock.Now())
	assert.Equal(t, uint64(105), clock.Advance(5))
	assert.Equal(t, uint64(105), clock.Now())
}

func TestAddress(t *testing.T) {
	t.Run("Generate And Round Trip", func(t *testing.T) {
		addr, err := chain.NewAddress()
		require.NoError(t, err)
		assert.True(t, chain.ValidAddress(addr))

		b, err := chain.AddressBytes(addr)
		require.NoError(t, err)
		assert.Len(t, b, chain.AddressLength)

		back, err := chain.AddressFromBytes(b)
		require.NoError(t, err)
		assert.Equal(t, addr, back)
	})

	t.Run("Invalid Addresses", func(t *testing.T) {
		assert.False(t, chain.ValidAddress(""))
		assert.False(t, chain.ValidAddress("0x1234"))
		assert.False(t, chain.ValidAddress("1234567890123456789012345678901234567890ab"))
		assert.False(t, chain.ValidAddress("0xzz34567890123456789012345678901234567890"))

		_, err := chain.AddressBytes("0x1234")
		assert.ErrorIs(t, err, chain.ErrInvalidAddress)

		_, err = chain.AddressFromBytes([]byte{1, 2, 3})
		assert.ErrorIs(t, err, chain.ErrInvalidAddress)
	})
}
