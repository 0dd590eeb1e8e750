package models

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x00000000000000000000000000000000000000a1 ")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xa1"), addr)

	for _, in := range []string{"", "0x123", "not-hex", "0x0000000000000000000000000000000000000000"} {
		_, err := ParseAddress(in)
		assert.True(t, errors.Is(err, ErrInvalidInput), "input %q", in)
	}
}

func TestParseOptionalAddress(t *testing.T) {
	addr, err := ParseOptionalAddress("")
	require.NoError(t, err)
	assert.Equal(t, ZeroAddress, addr)

	addr, err = ParseOptionalAddress("0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, ZeroAddress, addr)

	_, err = ParseOptionalAddress("0xzz")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
