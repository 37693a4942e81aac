package app

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKeyEncodings(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}

	cases := []struct {
		name  string
		value string
		want  []byte
	}{
		{"hex prefix", "hex:000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", raw},
		{"upper-case prefix", "HEX:000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", raw},
		{"base64 prefix", "base64:" + base64.StdEncoding.EncodeToString(raw), raw},
		{"raw base64 prefix", "base64:" + base64.RawStdEncoding.EncodeToString(raw[:31]), raw[:31]},
		{"unprefixed hex stays verbatim", "000102030405060708090a0b0c0d0e0f", []byte("000102030405060708090a0b0c0d0e0f")},
		{"base64-looking passphrase stays verbatim", "CorrectHorseBatteryStapleClinic1", []byte("CorrectHorseBatteryStapleClinic1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeKey("  " + tc.value + "\n")
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeKeyRejectsMalformedValues(t *testing.T) {
	for _, value := range []string{"   ", "hex:zz", "hex:", "base64:!!!"} {
		_, err := DecodeKey(value)
		require.Error(t, err, value)
	}
}

func TestKeyByteLength(t *testing.T) {
	n, err := KeyByteLength("hex:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	require.Equal(t, 32, n)

	// A 32-character passphrase made only of base64 characters is 32 bytes.
	n, err = KeyByteLength(strings.Repeat("j", 32))
	require.NoError(t, err)
	require.Equal(t, 32, n)

	n, err = KeyByteLength(" ")
	require.NoError(t, err)
	require.Zero(t, n)
}
