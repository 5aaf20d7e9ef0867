package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/hydfs/membership"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, "127.0.0.1:12345", c.Addr())
	assert.True(t, c.IsIntroducer(), "the default node seeds the cluster")
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"empty host", func(c *Config) { c.Host = "" }, ErrHostRequired},
		{"empty port", func(c *Config) { c.Port = "" }, ErrPortRequired},
		{"non-numeric port", func(c *Config) { c.Port = "http" }, ErrInvalidPort},
		{"port zero", func(c *Config) { c.Port = "0" }, ErrInvalidPort},
		{"port too large", func(c *Config) { c.Port = "70000" }, ErrInvalidPort},
		{"negative drop rate", func(c *Config) { c.DropRate = -0.1 }, ErrInvalidDropRate},
		{"drop rate above one", func(c *Config) { c.DropRate = 1.5 }, ErrInvalidDropRate},
		{"unknown mode", func(c *Config) { c.Mode = membership.PingAck + 1 }, ErrInvalidMode},
		{"empty store root", func(c *Config) { c.StoreRoot = "" }, ErrStoreRootRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(c)
			assert.ErrorIs(t, c.Validate(), tc.want)
		})
	}
}

func TestIsIntroducerMatchesLocalhostSpellings(t *testing.T) {
	c := DefaultConfig()
	c.Host = "localhost"
	c.Introducer = "127.0.0.1:12345"
	assert.True(t, c.IsIntroducer())

	c.Host = "127.0.0.1"
	c.Introducer = "localhost:12345"
	assert.True(t, c.IsIntroducer())

	c.Port = "9000"
	assert.False(t, c.IsIntroducer(), "different port means a joining node")

	c.Port = "12345"
	c.Introducer = "10.0.0.5:12345"
	assert.False(t, c.IsIntroducer())
}
