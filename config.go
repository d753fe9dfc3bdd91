// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udpcap holds the process configuration of the UDP capture relay.
package udpcap

import (
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/absmach/udpcap/pkg/delay"
	"github.com/absmach/udpcap/pkg/errors"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by NewConfig.
const EnvPrefix = "UDPCAP_"

// Config is the process configuration. It is read once at startup.
type Config struct {
	// Relay
	Listen     string `env:"LISTEN"`
	Upstream   string `env:"UPSTREAM"`
	MaxPackets int    `env:"MAX_PACKETS" envDefault:"0"`

	// Capture
	LogPath      string `env:"LOG"           envDefault:"-"`
	MirrorEvents bool   `env:"MIRROR_EVENTS" envDefault:"false"`

	// Latency injection
	DelayMs      float64 `env:"DELAY_MS"  envDefault:"0"`
	JitterMs     float64 `env:"JITTER_MS" envDefault:"0"`
	Distribution string  `env:"DIST"      envDefault:"normal"`
	Seed         uint64  `env:"SEED"      envDefault:"0"`

	// Shutdown
	DrainOnShutdown bool          `env:"DRAIN_ON_SHUTDOWN" envDefault:"false"`
	DrainTimeout    time.Duration `env:"DRAIN_TIMEOUT"     envDefault:"5s"`

	// Observability
	MetricsAddress string `env:"METRICS_ADDRESS"`
	LogLevel       string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"text"`
}

// NewConfig parses the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, errors.Join(errors.ErrInvalidConfig, err)
	}
	return c, nil
}

// RegisterFlags binds command-line flags to c, using its current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Listen, "listen", c.Listen, "listen address, host:port")
	fs.StringVar(&c.Upstream, "upstream", c.Upstream, "upstream address, host:port")
	fs.StringVar(&c.LogPath, "log", c.LogPath, "capture log path (- for stdout)")
	fs.IntVar(&c.MaxPackets, "max-packets", c.MaxPackets, "stop after N packets (0 = unlimited)")
	fs.Float64Var(&c.DelayMs, "delay-ms", c.DelayMs, "base delay per packet in milliseconds")
	fs.Float64Var(&c.JitterMs, "jitter-ms", c.JitterMs, "jitter applied to the delay in milliseconds")
	fs.StringVar(&c.Distribution, "dist", c.Distribution, "delay distribution: normal or uniform")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "delay generator seed (0 = random)")
	fs.BoolVar(&c.DrainOnShutdown, "drain", c.DrainOnShutdown, "send pending delayed packets before exiting")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "upper bound on the shutdown drain (0 = send only packets already due)")
	fs.StringVar(&c.MetricsAddress, "metrics", c.MetricsAddress, "metrics and health listen address (empty = disabled)")
	fs.BoolVar(&c.MirrorEvents, "mirror-events", c.MirrorEvents, "also log capture events at debug level")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or text")
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return fmt.Errorf("%w: listen address is required", errors.ErrInvalidConfig)
	case c.Upstream == "":
		return fmt.Errorf("%w: upstream address is required", errors.ErrInvalidConfig)
	case c.MaxPackets < 0:
		return fmt.Errorf("%w: max packets must not be negative", errors.ErrInvalidConfig)
	case c.DelayMs < 0:
		return fmt.Errorf("%w: delay must not be negative", errors.ErrInvalidConfig)
	case c.JitterMs < 0:
		return fmt.Errorf("%w: jitter must not be negative", errors.ErrInvalidConfig)
	case c.DrainTimeout < 0:
		return fmt.Errorf("%w: drain timeout must not be negative", errors.ErrInvalidConfig)
	}
	_, err := delay.ParseDistribution(c.Distribution)
	return err
}

// DelayConfig returns the sampler settings.
func (c Config) DelayConfig() (delay.Config, error) {
	dist, err := delay.ParseDistribution(c.Distribution)
	if err != nil {
		return delay.Config{}, err
	}
	return delay.Config{
		BaseMs:       c.DelayMs,
		JitterMs:     c.JitterMs,
		Distribution: dist,
	}, nil
}

// ResolveAddress resolves a host:port (IPv6 hosts in brackets) to a UDP address.
func ResolveAddress(s string) (*net.UDPAddr, error) {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return nil, fmt.Errorf("%w %q: %w", errors.ErrInvalidAddress, s, err)
	}
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", errors.ErrInvalidAddress, s, err)
	}
	return addr, nil
}

// ResolveUpstream resolves the upstream address, which must name a concrete peer.
func ResolveUpstream(s string) (*net.UDPAddr, error) {
	addr, err := ResolveAddress(s)
	if err != nil {
		return nil, err
	}
	if addr.Port == 0 || addr.IP == nil || addr.IP.IsUnspecified() {
		return nil, fmt.Errorf("%w %q: upstream needs a concrete host and port", errors.ErrInvalidAddress, s)
	}
	return addr, nil
}

// ListenNetwork picks the socket family from the resolved address rather
// than from the address string. Wildcard and IPv6-unspecified binds use a
// dual-stack socket.
func ListenNetwork(addr *net.UDPAddr) string {
	switch {
	case addr.IP == nil:
		return "udp"
	case addr.IP.To4() != nil:
		return "udp4"
	case addr.IP.IsUnspecified():
		return "udp"
	default:
		return "udp6"
	}
}
