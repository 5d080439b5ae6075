package bridge

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/maidsync/internal/config"
)

const (
	// DefaultReplyTimeout bounds how long a request waits on the consumer.
	DefaultReplyTimeout = 2 * time.Second
	// DefaultShutdownGrace bounds Shutdown when its context has no deadline.
	DefaultShutdownGrace = 2 * time.Second
	// DefaultMaxBodyBytes fits one notification or lock change with room to spare.
	DefaultMaxBodyBytes int64 = 16 << 10

	// headerTimeout and idleTimeout protect the listener from slow clients;
	// replySlack keeps the write deadline past the reply wait.
	headerTimeout = 5 * time.Second
	idleTimeout   = 60 * time.Second
	replySlack    = time.Second
)

// Settings configures the bridge. Every request that touches the engine
// waits at most ReplyTimeout for the consumer; a consumer busy past that is
// reported as 504 rather than holding the connection.
type Settings struct {
	Enabled       bool
	Host          string
	Port          int
	ReplyTimeout  time.Duration
	ShutdownGrace time.Duration
	MaxBodyBytes  int64
}

// SettingsFromConfig builds Settings from the effective config. Environment
// overrides have already been applied by config.NewConfig.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{Enabled: true}
	if cfg != nil {
		raw := cfg.Project.Bridge
		settings.Enabled = cfg.BridgeEnabled()
		settings.Host = raw.Host
		settings.Port = raw.Port
		settings.ReplyTimeout = raw.ReplyTimeout.Std()
		settings.MaxBodyBytes = raw.MaxBodyBytes
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = config.DefaultBridgeHost
	}
	// Port 0 asks the kernel for a free port.
	if s.Port != 0 && !isValidPort(s.Port) {
		s.Port = config.DefaultBridgePort
	}
	if s.ReplyTimeout <= 0 {
		s.ReplyTimeout = DefaultReplyTimeout
	}
	if s.ShutdownGrace <= 0 {
		s.ShutdownGrace = DefaultShutdownGrace
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// writeTimeout is the server write deadline: the reply wait plus slack to
// encode the answer.
func (s Settings) writeTimeout() time.Duration {
	return s.ReplyTimeout + replySlack
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
