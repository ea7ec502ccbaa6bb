package ports

import "time"

type Policy struct {
	// ShutdownGrace bounds how long Stop waits for in-flight cycles.
	ShutdownGrace time.Duration
	// SendTimeout bounds a single transport send.
	SendTimeout time.Duration
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration
	// LogEvery throttles repeated per-writer failure logs.
	LogEvery time.Duration
}

func (p *Policy) ApplyDefaults() {
	if p.ShutdownGrace <= 0 {
		p.ShutdownGrace = 5 * time.Second
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = 5 * time.Second
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = 10 * time.Second
	}
	if p.LogEvery <= 0 {
		p.LogEvery = 10 * time.Second
	}
}
