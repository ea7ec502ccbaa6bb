// Package addressspace provides an in-process address space with optional
// signal simulation. Reads are lock free: every variable holds its current
// value behind an atomic pointer.
package addressspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/gopcua/opcua/ua"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrDuplicateNode = errors.New("node already defined")
	ErrForeignHandle = errors.New("handle does not belong to this address space")
)

type variable struct {
	ref   string
	typ   ua.TypeID
	value atomic.Pointer[domain.DataValue]
}

func (v *variable) Ref() string { return v.ref }

// Memory is an in-memory address space. Variables are defined up front and
// updated with Write; Resolve and Read never block writers.
type Memory struct {
	clock clock.Clock

	mu   sync.RWMutex
	vars map[string]*variable
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{clock: clk, vars: make(map[string]*variable)}
}

// NormalizeRef canonicalises a node id string so that "ns=1;s=X" and
// " ns=1;s=X " resolve to the same variable. References that are not node
// ids are kept as trimmed opaque strings.
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	id, err := ua.ParseNodeID(ref)
	if err != nil {
		return ref
	}
	return id.String()
}

// Define adds a variable. A nil initial value leaves it waiting for its first
// write.
func (m *Memory) Define(ref string, t ua.TypeID, initial any) error {
	key := NormalizeRef(ref)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vars[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, key)
	}
	v := &variable{ref: key, typ: t}
	if initial != nil {
		now := m.clock.Now()
		v.value.Store(&domain.DataValue{
			Value: initial, Type: t, Status: domain.StatusGood,
			SourceTimestamp: now, ServerTimestamp: now,
		})
	}
	m.vars[key] = v
	return nil
}

func (m *Memory) lookup(ref string) (*variable, error) {
	key := NormalizeRef(ref)
	m.mu.RLock()
	v, ok := m.vars[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, key)
	}
	return v, nil
}

// Write stores a good value stamped with the current time.
func (m *Memory) Write(ref string, value any) error {
	v, err := m.lookup(ref)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	v.value.Store(&domain.DataValue{
		Value: value, Type: v.typ, Status: domain.StatusGood,
		SourceTimestamp: now, ServerTimestamp: now,
	})
	return nil
}

// WriteDataValue stores dv as is, including its status and timestamps.
func (m *Memory) WriteDataValue(ref string, dv domain.DataValue) error {
	v, err := m.lookup(ref)
	if err != nil {
		return err
	}
	if dv.Type == 0 {
		dv.Type = v.typ
	}
	v.value.Store(&dv)
	return nil
}

// SetStatus replaces the status of the current value.
func (m *Memory) SetStatus(ref string, status ua.StatusCode) error {
	v, err := m.lookup(ref)
	if err != nil {
		return err
	}
	var next domain.DataValue
	if cur := v.value.Load(); cur != nil {
		next = *cur
	} else {
		next.Type = v.typ
	}
	next.Status = status
	next.ServerTimestamp = m.clock.Now()
	v.value.Store(&next)
	return nil
}

func (m *Memory) Resolve(_ context.Context, ref string) (ports.VariableHandle, error) {
	return m.lookup(ref)
}

func (m *Memory) Read(_ context.Context, h ports.VariableHandle) (domain.DataValue, error) {
	v, ok := h.(*variable)
	if !ok {
		return domain.DataValue{}, ErrForeignHandle
	}
	cur := v.value.Load()
	if cur == nil {
		return domain.DataValue{Type: v.typ, Status: domain.StatusNoInitialValue}, nil
	}
	return *cur, nil
}

var _ ports.AddressSpace = (*Memory)(nil)
