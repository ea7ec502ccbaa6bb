package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// Assembler builds snapshots of a dataset.
type Assembler struct {
	sampler *Sampler
	clock   clock.Clock
	obs     ports.Observability
}

func NewAssembler(sampler *Sampler, clk clock.Clock, obs ports.Observability) *Assembler {
	return &Assembler{sampler: sampler, clock: clk, obs: obs}
}

// Assemble samples every field of ds in definition order against one
// timestamp captured before the first read. Field failures never abort the
// snapshot: they are embedded as status codes and also returned joined in
// the error.
func (a *Assembler) Assemble(ctx context.Context, ds *domain.PublishedDataSet, seq uint16) (domain.Snapshot, error) {
	asOf := a.clock.Now()
	snap := domain.Snapshot{
		DataSetName:     ds.Name,
		SequenceNumber:  seq,
		Timestamp:       asOf,
		MetaDataVersion: ds.MetaDataVersion,
		Type:            domain.KeyFrame,
		Fields:          make([]domain.FieldValue, 0, len(ds.Fields)),
	}

	var errs []error
	for _, f := range ds.Fields {
		dv, err := a.sampler.Sample(ctx, f, asOf)
		if err != nil {
			a.obs.IncCounter(ports.MetricSampleErrors, 1, ds.Name, sampleErrorClass(err))
			errs = append(errs, fmt.Errorf("field %q: %w", f.Name, err))
		}
		snap.Fields = append(snap.Fields, domain.FieldValue{Name: f.Name, Value: dv})
	}
	return snap, errors.Join(errs...)
}

func sampleErrorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, domain.ErrStaleData):
		return "stale"
	case errors.Is(err, domain.ErrTypeMismatch):
		return "type_mismatch"
	default:
		return "other"
	}
}
