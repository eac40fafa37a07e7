package kvutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"node-1", "node-1"},
		{"host_12_ab34cd56", "host_12_ab34cd56"},
		{"pl.allegro.orders$audit", "pl=2Eallegro=2Eorders=24audit"},
		{"a=b", "a=3Db"},
		{"a b", "a=20b"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := EncodeToken(tt.in)
			require.Equal(t, tt.want, got)
			require.NotContains(t, got, ".")

			back, err := DecodeToken(got)
			require.NoError(t, err)
			require.Equal(t, tt.in, back)
		})
	}
}

func TestDecodeToken_Invalid(t *testing.T) {
	for _, token := range []string{"abc=", "abc=2", "abc=ZZ", "=G0"} {
		_, err := DecodeToken(token)
		require.Error(t, err, token)
	}

	got, err := DecodeToken("abc=2e")
	require.NoError(t, err)
	require.Equal(t, "abc.", got)
}

func TestKey(t *testing.T) {
	require.Equal(t, "dc1.node-1", Key("dc1", "node-1"))
	require.Equal(t, "dc1.>", Key("dc1", ">"))
	require.Equal(t, "single", Key("single"))
}
