package chatsync

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls how the SDK connects and how the per-room trackers
// debounce their outbound signals.
type Config struct {
	URL   string `env:"CHATSYNC_URL"`
	Token string `env:"CHATSYNC_TOKEN"` // opaque bearer token for the CONNECT frame

	HandshakeTimeout time.Duration `env:"CHATSYNC_HANDSHAKE_TIMEOUT"`
	ReadTimeout      time.Duration `env:"CHATSYNC_READ_TIMEOUT"`
	WriteTimeout     time.Duration `env:"CHATSYNC_WRITE_TIMEOUT"`

	// Heartbeat is the interval proposed during the CONNECT handshake.
	// The negotiated outgoing interval may be longer if the broker asks
	// for less frequent beats.
	Heartbeat time.Duration `env:"CHATSYNC_HEARTBEAT"`

	AutoReconnect     bool          `env:"CHATSYNC_AUTO_RECONNECT"`
	ReconnectInterval time.Duration `env:"CHATSYNC_RECONNECT_INTERVAL"`
	MaxReconnectTries uint          `env:"CHATSYNC_MAX_RECONNECT_TRIES"` // 0 = unlimited

	// HistoryLimit is the page size requested from the history provider
	// when a session joins a room.
	HistoryLimit int `env:"CHATSYNC_HISTORY_LIMIT"`

	TypingDebounce      time.Duration `env:"CHATSYNC_TYPING_DEBOUNCE"`
	TypingExpiry        time.Duration `env:"CHATSYNC_TYPING_EXPIRY"`
	ReadReceiptDebounce time.Duration `env:"CHATSYNC_READ_DEBOUNCE"`
}

// DefaultConfig returns sensible defaults. Set a timeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:    10 * time.Second,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        10 * time.Second,
		Heartbeat:           10 * time.Second,
		AutoReconnect:       true,
		ReconnectInterval:   3 * time.Second,
		HistoryLimit:        50,
		TypingDebounce:      500 * time.Millisecond,
		TypingExpiry:        3 * time.Second,
		ReadReceiptDebounce: time.Second,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by CHATSYNC_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, WrapError(ErrorInvalidConfig, "parse environment", err)
	}
	return cfg, nil
}
