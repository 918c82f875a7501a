package zacp

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"github.com/outofforest/zacp/transport"
	"github.com/outofforest/zacp/wire"
)

// Config is the configuration of the session.
type Config struct {
	// AppID is the application name announced to the peer.
	AppID string `env:"ZACP_APP_ID" envDefault:"zmap"`

	// PeerAppID restricts the application allowed to handshake, if set.
	PeerAppID string `env:"ZACP_PEER_APP_ID"`

	RequestAtom  string `env:"ZACP_REQUEST_ATOM_NAME"  envDefault:"_ZACP_REQUEST"`
	ResponseAtom string `env:"ZACP_RESPONSE_ATOM_NAME" envDefault:"_ZACP_RESPONSE"`

	Version string `env:"ZACP_PROTOCOL_VERSION" envDefault:"3.0"`

	// Timeout is the time to wait for the reply. Zero disables timeouts.
	Timeout time.Duration `env:"ZACP_TIMEOUT" envDefault:"500ms"`

	// NeverTimeout disables timeouts regardless of Timeout. Meant for interactive debugging.
	NeverTimeout bool `env:"ZACP_NEVER_TIMEOUT"`

	// MaxRetries is the number of resends of an unanswered request before it fails.
	MaxRetries int `env:"ZACP_MAX_RETRIES" envDefault:"0"`

	// Debug enables logging of the traffic.
	Debug bool `env:"ZACP_DEBUG"`

	MaxMessageSize uint64 `env:"ZACP_MAX_MESSAGE_SIZE" envDefault:"1048576"`
	JournalDir     string `env:"ZACP_JOURNAL_DIR"`
	Listen         string `env:"ZACP_LISTEN"`
	PeerAddr       string `env:"ZACP_PEER_ADDR"`
}

// DefaultConfig returns config with default values.
func DefaultConfig() Config {
	return Config{
		AppID:          "zmap",
		RequestAtom:    "_ZACP_REQUEST",
		ResponseAtom:   "_ZACP_RESPONSE",
		Version:        wire.DefaultVersion,
		Timeout:        500 * time.Millisecond,
		MaxMessageSize: 1024 * 1024,
	}
}

// LoadConfig reads config from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates config.
func (c Config) Validate() error {
	if c.AppID == "" {
		return errors.New("application id is empty")
	}
	if c.RequestAtom == "" || c.ResponseAtom == "" {
		return errors.New("atom names must not be empty")
	}
	if c.RequestAtom == c.ResponseAtom {
		return errors.Errorf("request and response atoms must differ, both are %q", c.RequestAtom)
	}
	if c.Timeout < 0 {
		return errors.Errorf("timeout %s is negative", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return errors.Errorf("max retries %d is negative", c.MaxRetries)
	}
	return nil
}

// Atoms returns atom pair used by transport.
func (c Config) Atoms() transport.Atoms {
	return transport.Atoms{
		Request:  wire.Atom(c.RequestAtom),
		Response: wire.Atom(c.ResponseAtom),
	}
}

func (c Config) timeoutEnabled() bool {
	return !c.NeverTimeout && c.Timeout > 0
}
