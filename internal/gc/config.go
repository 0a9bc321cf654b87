package gc

import "github.com/watersir/f2fs-change/internal/metrics"

// Config assembles everything needed to build a GC stack for one
// filesystem instance, mirroring the teacher's sgConfig-then-constructor
// shape (newSegmentGroup(cfg sgConfig)).
type Config struct {
	BlocksPerSeg    int // B
	SegsPerSection  int // S
	MaxVictimSearch int
	AllocMode       AllocMode
	Thresholds      GCThresholds
	Metrics         *metrics.GC // optional; nil is a valid no-op bundle
}

// Option mutates a Config during construction.
type Option func(*Config)

// DefaultConfig returns the shipped defaults (B=512, S=1), matching the
// typical values used throughout spec.md's worked examples (§8).
func DefaultConfig() Config {
	return Config{
		BlocksPerSeg:    512,
		SegsPerSection:  1,
		MaxVictimSearch: 4096,
		AllocMode:       LFS,
		Thresholds:      DefaultGCThresholds(),
	}
}

func WithSectionSize(segsPerSection int) Option {
	return func(c *Config) { c.SegsPerSection = segsPerSection }
}

func WithSegmentSize(blocksPerSeg int) Option {
	return func(c *Config) { c.BlocksPerSeg = blocksPerSeg }
}

func WithMaxVictimSearch(n int) Option {
	return func(c *Config) { c.MaxVictimSearch = n }
}

func WithAllocMode(m AllocMode) Option {
	return func(c *Config) { c.AllocMode = m }
}

func WithThresholds(th GCThresholds) Option {
	return func(c *Config) { c.Thresholds = th }
}

func NewConfig(opts ...Option) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
