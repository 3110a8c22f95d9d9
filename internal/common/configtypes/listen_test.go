package configtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListenAddress(t *testing.T) {
	tests := []struct {
		name     string
		listen   string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "port with colon", listen: ":8080", wantPort: 8080},
		{name: "bare port", listen: "8080", wantPort: 8080},
		{name: "localhost", listen: "localhost:9090", wantHost: "localhost", wantPort: 9090},
		{name: "all interfaces", listen: "0.0.0.0:10070", wantHost: "0.0.0.0", wantPort: 10070},
		{name: "ipv6", listen: "[::1]:8080", wantHost: "::1", wantPort: 8080},
		{name: "empty", listen: "", wantErr: true},
		{name: "not a number", listen: "abc", wantErr: true},
		{name: "bad port", listen: "localhost:http", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := ParseListenAddress(tt.listen)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestValidateListenAddress(t *testing.T) {
	assert.NoError(t, ValidateListenAddress(":8080"))
	assert.NoError(t, ValidateListenAddress("127.0.0.1:65535"))
	assert.Error(t, ValidateListenAddress(":0"))
	assert.Error(t, ValidateListenAddress(":70000"))
	assert.Error(t, ValidateListenAddress(""))
}

func TestNormalizeListen(t *testing.T) {
	got, err := NormalizeListen("8080")
	require.NoError(t, err)
	assert.Equal(t, ":8080", got)

	got, err = NormalizeListen("localhost:9000")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", got)

	_, err = NormalizeListen("nope")
	assert.Error(t, err)
}

func TestSamePort(t *testing.T) {
	assert.True(t, SamePort(":8080", "0.0.0.0:8080"))
	assert.False(t, SamePort(":8080", ":9090"))
	assert.False(t, SamePort("", ":9090"))
}

func TestIsValidLogLevel(t *testing.T) {
	assert.True(t, IsValidLogLevel("info"))
	assert.True(t, IsValidLogLevel("debug"))
	assert.False(t, IsValidLogLevel("verbose"))
	assert.False(t, IsValidLogLevel(""))
}
