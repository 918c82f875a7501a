package zacp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	requireT := require.New(t)

	cfg, err := LoadConfig()
	requireT.NoError(err)
	requireT.Equal(DefaultConfig(), cfg)
	requireT.True(cfg.timeoutEnabled())
}

func TestLoadConfigFromEnv(t *testing.T) {
	requireT := require.New(t)

	t.Setenv("ZACP_APP_ID", "xace")
	t.Setenv("ZACP_PEER_APP_ID", "zmap")
	t.Setenv("ZACP_TIMEOUT", "2s")
	t.Setenv("ZACP_MAX_RETRIES", "3")
	t.Setenv("ZACP_NEVER_TIMEOUT", "true")

	cfg, err := LoadConfig()
	requireT.NoError(err)
	requireT.Equal("xace", cfg.AppID)
	requireT.Equal("zmap", cfg.PeerAppID)
	requireT.Equal(2*time.Second, cfg.Timeout)
	requireT.Equal(3, cfg.MaxRetries)
	requireT.False(cfg.timeoutEnabled())
}

func TestConfigValidation(t *testing.T) {
	requireT := require.New(t)

	cfg := DefaultConfig()
	cfg.ResponseAtom = cfg.RequestAtom
	requireT.Error(cfg.Validate())

	cfg = DefaultConfig()
	cfg.Timeout = -time.Second
	requireT.Error(cfg.Validate())

	cfg = DefaultConfig()
	cfg.Timeout = 0
	requireT.NoError(cfg.Validate())
	requireT.False(cfg.timeoutEnabled())

	t.Setenv("ZACP_MAX_RETRIES", "-1")
	_, err := LoadConfig()
	requireT.Error(err)
}

func TestStateMachine(t *testing.T) {
	requireT := require.New(t)

	sm := newStateMachine()
	requireT.Equal(StateUninitialized, sm.State())
	requireT.Error(sm.Transition(StateHandshakeComplete))

	requireT.NoError(sm.Transition(StateSelfInitDone))
	requireT.NoError(sm.Transition(StateAwaitingHandshake))
	requireT.NoError(sm.Transition(StateHandshakeComplete))
	requireT.Error(sm.Transition(StateSelfInitDone))
	requireT.NoError(sm.Transition(StateAwaitingHandshake))
	requireT.NoError(sm.Transition(StateUninitialized))
}

func TestSelfIdentity(t *testing.T) {
	requireT := require.New(t)

	id1, err := selfIdentity("zmap")
	requireT.NoError(err)
	id2, err := selfIdentity("zmap")
	requireT.NoError(err)

	requireT.Equal("zmap", id1.AppID)
	requireT.NotEqual(id1.UniqueID, id2.UniqueID)
	requireT.Contains(id1.UniqueID, "zmap-")
}
