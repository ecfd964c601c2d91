package shortid

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := Generate()
		require.Len(t, id, Length)
		assert.True(t, IsValid(id), "generated id %q must be valid", id)
		seen[id] = true
	}
	// 100 draws from a 62^16 space colliding would point at a broken encoder.
	assert.Len(t, seen, 100)
}

func TestDeriveDeterministic(t *testing.T) {
	a := Derive("getting-started-guide")
	b := Derive("getting-started-guide")
	c := Derive("another-slug")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, IsValid(a))
	assert.True(t, IsValid(c))
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"valid mixed", "A1B2C3D4E5F6G7H8", true},
		{"valid all zero", "0000000000000000", true},
		{"too short", "A1B2C3D4E5F6G7H", false},
		{"too long", "A1B2C3D4E5F6G7H89", false},
		{"empty", "", false},
		{"underscore", "A1B2C3D4E5F6G7H_", false},
		{"unicode", "A1B2C3D4E5F6G7Hé", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.in))
		})
	}
}

func TestEncodePadsZero(t *testing.T) {
	assert.Equal(t, "0000000000000000", encode(big.NewInt(0)))
	assert.Equal(t, "000000000000000z", encode(big.NewInt(61)))
	assert.Equal(t, "0000000000000010", encode(big.NewInt(62)))
}
