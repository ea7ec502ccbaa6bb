package addressspace

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gopcua/opcua/ua"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

type SignalKind string

const (
	SignalSine       SignalKind = "sine"
	SignalRamp       SignalKind = "ramp"
	SignalConstant   SignalKind = "constant"
	SignalRandomWalk SignalKind = "random_walk"
)

func ParseSignalKind(s string) (SignalKind, error) {
	switch k := SignalKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SignalSine, SignalRamp, SignalConstant, SignalRandomWalk:
		return k, nil
	case "":
		return SignalConstant, nil
	default:
		return "", fmt.Errorf("unknown signal %q", s)
	}
}

// Signal describes a generated variable. The sine default mirrors a slowly
// drifting temperature: Offset + Amplitude*sin(2*pi*t/Period) + noise.
type Signal struct {
	NodeID    string
	Type      ua.TypeID
	Kind      SignalKind
	Offset    float64
	Amplitude float64
	Period    time.Duration
	Noise     float64
}

// Simulator periodically writes generated values into a Memory address space.
type Simulator struct {
	mem      *Memory
	clock    clock.Clock
	interval time.Duration
	signals  []Signal
	start    time.Time

	mu   sync.Mutex
	rnd  *rand.Rand
	walk []float64
}

func NewSimulator(mem *Memory, clk clock.Clock, interval time.Duration, seed int64, signals []Signal) (*Simulator, error) {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		return nil, fmt.Errorf("simulator: update interval must be positive")
	}
	s := &Simulator{
		mem:      mem,
		clock:    clk,
		interval: interval,
		signals:  signals,
		start:    clk.Now(),
		rnd:      rand.New(rand.NewSource(seed)),
		walk:     make([]float64, len(signals)),
	}
	for i, sig := range signals {
		if sig.Kind != SignalConstant && sig.Period <= 0 && sig.Kind != SignalRandomWalk {
			return nil, fmt.Errorf("simulator: %s: period must be positive", sig.NodeID)
		}
		s.walk[i] = sig.Offset
		if err := mem.Define(sig.NodeID, sig.Type, nil); err != nil {
			return nil, err
		}
	}
	s.Step(s.start)
	return s, nil
}

// Run updates the variables every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	t := s.clock.Ticker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Step(now)
		}
	}
}

// Step computes and writes one value per signal for time now.
func (s *Simulator) Step(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := now.Sub(s.start).Seconds()
	for i, sig := range s.signals {
		var v float64
		switch sig.Kind {
		case SignalSine:
			v = sig.Offset + sig.Amplitude*math.Sin(2*math.Pi*elapsed/sig.Period.Seconds())
		case SignalRamp:
			frac := math.Mod(elapsed, sig.Period.Seconds()) / sig.Period.Seconds()
			v = sig.Offset + sig.Amplitude*frac
		case SignalRandomWalk:
			s.walk[i] += sig.Amplitude * (s.rnd.Float64()*2 - 1)
			v = s.walk[i]
		default:
			v = sig.Offset
		}
		if sig.Noise > 0 {
			v += sig.Noise * s.rnd.Float64()
		}
		_ = s.mem.Write(sig.NodeID, typed(v, sig.Type))
	}
}

func typed(v float64, t ua.TypeID) any {
	if t == ua.TypeIDBoolean {
		return v >= 0.5
	}
	if t != ua.TypeIDDouble && t != ua.TypeIDFloat {
		v = math.Round(v)
	}
	if out, ok := domain.Coerce(v, t); ok {
		return out
	}
	return v
}
