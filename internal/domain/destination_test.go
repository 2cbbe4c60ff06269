package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressRange(t *testing.T) {
	tests := []struct {
		in       string
		from, to string
	}{
		{"10.0.0.1", "10.0.0.1", "10.0.0.1"},
		{" 10.0.0.0/24 ", "10.0.0.0", "10.0.0.255"},
		{"10.0.0.7/24", "10.0.0.0", "10.0.0.255"},
		{"10.0.0.1-10.0.0.9", "10.0.0.1", "10.0.0.9"},
		{"::ffff:10.0.0.1", "10.0.0.1", "10.0.0.1"},
		{"::ffff:0:0/96", "0.0.0.0", "255.255.255.255"},
		{"fd00::/127", "fd00::", "fd00::1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := ParseAddressRange(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.from, r.From.String())
			assert.Equal(t, tt.to, r.To.String())
			assert.Equal(t, r.From.Is4(), r.To.Is4())
		})
	}
}

func TestParseAddressRange_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"10.0.0.256",
		"10.0.0.0/33",
		"10.0.0.9-10.0.0.1",
		"10.0.0.1-fd00::1",
		"::fffe:0:0/95",
		"::/80",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAddressRange(in)
			assert.Error(t, err)
		})
	}
}
