package swim

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"swim/internal/engine"
	"swim/internal/transport"
)

// Config is the node's configuration surface. Any zero-valued field is
// filled from DefaultConfig at New; see internal/engine.Config.Merge.
type Config struct {
	SelfID PeerID
	Host   string
	Port   int

	ProtocolPeriod      time.Duration
	ProbeTimeout        time.Duration
	SuspectTimeout      time.Duration
	DisseminationFactor float64
	MaxPiggyback        int

	Logger    *zap.Logger
	Rand      *rand.Rand
	Transport transport.Transport
}

func (c Config) toEngineConfig() engine.Config {
	return engine.Config{
		SelfID:              c.SelfID,
		Host:                c.Host,
		Port:                c.Port,
		ProtocolPeriod:      c.ProtocolPeriod,
		ProbeTimeout:        c.ProbeTimeout,
		SuspectTimeout:      c.SuspectTimeout,
		DisseminationFactor: c.DisseminationFactor,
		MaxPiggyback:        c.MaxPiggyback,
		Logger:              c.Logger,
		Rand:                c.Rand,
		Transport:           c.Transport,
	}
}

// DefaultConfig mirrors internal/engine.DefaultConfig for callers who
// want to start from it and override a few fields directly rather than
// through Options.
func DefaultConfig() Config {
	d := engine.DefaultConfig()
	return Config{
		ProtocolPeriod:      d.ProtocolPeriod,
		ProbeTimeout:        d.ProbeTimeout,
		SuspectTimeout:      d.SuspectTimeout,
		DisseminationFactor: d.DisseminationFactor,
		MaxPiggyback:        d.MaxPiggyback,
	}
}

// Option mutates Config before New constructs the node, following the
// teacher's functional-option pattern (see the original options.go).
type Option func(*Config)

func WithLogger(l *zap.Logger) Option { return func(c *Config) { c.Logger = l } }

func WithRand(r *rand.Rand) Option { return func(c *Config) { c.Rand = r } }

func WithTransport(t transport.Transport) Option { return func(c *Config) { c.Transport = t } }

func WithProtocolPeriod(d time.Duration) Option { return func(c *Config) { c.ProtocolPeriod = d } }

func WithProbeTimeout(d time.Duration) Option { return func(c *Config) { c.ProbeTimeout = d } }

func WithSuspectTimeout(d time.Duration) Option { return func(c *Config) { c.SuspectTimeout = d } }

func WithDisseminationFactor(k float64) Option {
	return func(c *Config) { c.DisseminationFactor = k }
}

func WithMaxPiggyback(n int) Option { return func(c *Config) { c.MaxPiggyback = n } }
