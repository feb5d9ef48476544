package interaction

import (
	"math"
	"math/rand/v2"
	"time"
)

// PacerConfig tunes the simulated typing delay.
type PacerConfig struct {
	BaseThinking   time.Duration
	CharsPerSecond float64
	// Variation is the jitter width as a fraction of the unjittered delay.
	Variation float64
	MinDelay  time.Duration
	MaxDelay  time.Duration
}

// DefaultPacerConfig: 500ms thinking, 7 chars/s, 20% jitter, 300ms to 3s.
func DefaultPacerConfig() PacerConfig {
	return PacerConfig{
		BaseThinking:   500 * time.Millisecond,
		CharsPerSecond: 7,
		Variation:      0.2,
		MinDelay:       300 * time.Millisecond,
		MaxDelay:       3 * time.Second,
	}
}

// Pacer computes how long to wait before sending a reply.
type Pacer struct {
	cfg       PacerConfig
	randFloat func() float64
}

func NewPacer(cfg PacerConfig) *Pacer {
	d := DefaultPacerConfig()
	if cfg.BaseThinking < 0 {
		cfg.BaseThinking = d.BaseThinking
	}
	if cfg.CharsPerSecond <= 0 {
		cfg.CharsPerSecond = d.CharsPerSecond
	}
	if cfg.Variation < 0 {
		cfg.Variation = 0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MinDelay > cfg.MaxDelay {
		cfg.MinDelay = cfg.MaxDelay
	}
	return &Pacer{cfg: cfg, randFloat: rand.Float64}
}

// Delay returns typing time plus thinking time for a reply of length
// characters, jittered by up to ±Variation/2 and clamped to [MinDelay, MaxDelay].
func (p *Pacer) Delay(length int) time.Duration {
	if length < 0 {
		length = 0
	}
	n := float64(length)
	typingMs := n / p.cfg.CharsPerSecond * 1000
	thinkingMs := float64(p.cfg.BaseThinking.Milliseconds()) * (1 + n/100)
	total := typingMs + thinkingMs
	variation := total * p.cfg.Variation
	total += p.randFloat()*variation - variation/2

	// Clamp in float milliseconds; converting first overflows for huge lengths.
	minMs := float64(p.cfg.MinDelay) / float64(time.Millisecond)
	maxMs := float64(p.cfg.MaxDelay) / float64(time.Millisecond)
	if total < minMs || math.IsNaN(total) {
		return p.cfg.MinDelay
	}
	if total > maxMs {
		return p.cfg.MaxDelay
	}
	return time.Duration(total * float64(time.Millisecond))
}
