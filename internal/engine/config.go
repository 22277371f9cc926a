package engine

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"swim/internal/peer"
	"swim/internal/transport"
)

// PeerInfo is the minimal information needed to register a peer, whether
// supplied at Init as an initial seed list or learned later from a
// gossiped update's bootstrap address hint.
type PeerInfo struct {
	ID   peer.ID
	Host string
	Port int
}

// Config holds everything the engine needs that isn't learned at runtime.
// Every duration and factor here corresponds to a named constant in the
// protocol description; New always merges onto DefaultConfig. Logger and
// Rand, which DefaultConfig leaves nil, are filled in by New itself (a
// no-op logger and a time-seeded source).
type Config struct {
	SelfID peer.ID
	Host   string
	Port   int

	// ProtocolPeriod (T') is the interval between scheduler ticks.
	ProtocolPeriod time.Duration
	// ProbeTimeout (tau) bounds both the direct-ack wait and the indirect
	// round's relayed-ack wait.
	ProbeTimeout time.Duration
	// SuspectTimeout (tau-3) bounds how long a suspect peer has to refute
	// before being declared down.
	SuspectTimeout time.Duration
	// DisseminationFactor (k) scales the piggyback eviction limit.
	DisseminationFactor float64
	// MaxPiggyback caps how many updates ride on one outbound message.
	MaxPiggyback int

	Logger    *zap.Logger
	Rand      *rand.Rand
	Transport transport.Transport
}

// DefaultConfig matches the protocol description's suggested constants.
func DefaultConfig() Config {
	return Config{
		ProtocolPeriod:      2 * time.Second,
		ProbeTimeout:        time.Second,
		SuspectTimeout:      time.Second,
		DisseminationFactor: 3,
		MaxPiggyback:        6,
	}
}

// Merge fills any zero-valued field of cfg with the corresponding field
// from defaults, following the teacher's config-merge idiom (see
// internal/cluster/cluster.go's Config.merge).
func (cfg Config) Merge(defaults Config) Config {
	if cfg.ProtocolPeriod == 0 {
		cfg.ProtocolPeriod = defaults.ProtocolPeriod
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.SuspectTimeout == 0 {
		cfg.SuspectTimeout = defaults.SuspectTimeout
	}
	if cfg.DisseminationFactor == 0 {
		cfg.DisseminationFactor = defaults.DisseminationFactor
	}
	if cfg.MaxPiggyback == 0 {
		cfg.MaxPiggyback = defaults.MaxPiggyback
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.Rand == nil {
		cfg.Rand = defaults.Rand
	}
	if cfg.Transport == nil {
		cfg.Transport = defaults.Transport
	}
	return cfg
}
