package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// Sampler reads dataset fields from an address space. Source references are
// resolved once by Bind and the handles reused for every sample.
type Sampler struct {
	space ports.AddressSpace

	mu      sync.RWMutex
	handles map[string]ports.VariableHandle
}

func NewSampler(space ports.AddressSpace) *Sampler {
	return &Sampler{space: space, handles: make(map[string]ports.VariableHandle)}
}

// Bind resolves the sources of fields. Every unresolved source is reported.
func (s *Sampler) Bind(ctx context.Context, fields []domain.FieldDefinition) error {
	var errs []error
	for _, f := range fields {
		if _, ok := s.handle(f.Source); ok {
			continue
		}
		h, err := s.space.Resolve(ctx, f.Source)
		if err != nil {
			if !errors.Is(err, domain.ErrSourceUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
			}
			errs = append(errs, fmt.Errorf("field %q: %w", f.Name, err))
			continue
		}
		s.mu.Lock()
		s.handles[f.Source] = h
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (s *Sampler) handle(ref string) (ports.VariableHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[ref]
	return h, ok
}

// Sample reads one field as of asOf. The returned value always carries a
// status that can be embedded in a dataset; a non-nil error says why that
// status is not good (ErrSourceUnavailable, ErrStaleData, ErrTypeMismatch).
func (s *Sampler) Sample(ctx context.Context, f domain.FieldDefinition, asOf time.Time) (domain.DataValue, error) {
	h, ok := s.handle(f.Source)
	if !ok {
		return domain.DataValue{Type: f.BuiltInType, Status: domain.StatusUnknownSource, ServerTimestamp: asOf},
			fmt.Errorf("%w: %s is not resolved", domain.ErrSourceUnavailable, f.Source)
	}

	dv, err := s.space.Read(ctx, h)
	if err != nil {
		return domain.DataValue{Type: f.BuiltInType, Status: domain.StatusSourceUnavailable, ServerTimestamp: asOf},
			fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, f.Source, err)
	}
	if dv.ServerTimestamp.IsZero() {
		dv.ServerTimestamp = asOf
	}

	if dv.Value != nil {
		v, ok := domain.Coerce(dv.Value, f.BuiltInType)
		if !ok {
			return domain.DataValue{
					Type:            f.BuiltInType,
					Status:          domain.StatusTypeMismatch,
					SourceTimestamp: dv.SourceTimestamp,
					ServerTimestamp: dv.ServerTimestamp,
				}, fmt.Errorf("%w: %s: %T is not %s", domain.ErrTypeMismatch, f.Source, dv.Value,
					domain.BuiltInTypeName(f.BuiltInType))
		}
		dv.Value = v
	}
	dv.Type = f.BuiltInType

	if !domain.IsGood(dv.Status) {
		return dv, fmt.Errorf("%w: %s reported %s", domain.ErrStaleData, f.Source, dv.Status)
	}
	return dv, nil
}
