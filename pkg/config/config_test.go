package config_test

import (
	"testing"

	"github.com/peerprep/interviewd/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
log: debug
relay:
  backend: redis
  redis:
    addr: localhost:6379
store:
  backend: memory
rtc:
  stunServers:
    - stun:stun.example.com:3478
session:
  entryGrace: 5
  debounceWindow: 50
`

func TestLoadConfigFromString(t *testing.T) {
	cfg, err := config.LoadConfigFromString(validConfig)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.RelayBackendRedis, cfg.Relay.Backend)
	assert.Equal(t, "localhost:6379", cfg.Relay.Redis.Addr)
	assert.Equal(t, config.StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.RTC.STUNServers)
	assert.Equal(t, 5, cfg.Session.EntryGrace)
	assert.Equal(t, 50, cfg.Session.DebounceWindow)
}

func TestLoadConfigFromString_RejectsUnknownRelayBackend(t *testing.T) {
	_, err := config.LoadConfigFromString(`
relay:
  backend: carrier-pigeon
store:
  backend: memory
`)
	assert.Error(t, err)
}

func TestLoadConfigFromString_RejectsIncompleteMatrixConfig(t *testing.T) {
	_, err := config.LoadConfigFromString(`
relay:
  backend: matrix
  matrix:
    userId: "@agent:example.com"
store:
  backend: memory
`)
	assert.Error(t, err)
}

func TestLoadConfigFromString_RejectsMissingRedisAddr(t *testing.T) {
	_, err := config.LoadConfigFromString(`
relay:
  backend: redis
store:
  backend: redis
`)
	assert.Error(t, err)
}

func TestLoadConfigFromString_RejectsInvalidYAML(t *testing.T) {
	_, err := config.LoadConfigFromString("{not yaml")
	assert.Error(t, err)
}
