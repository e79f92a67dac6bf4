package registry

import (
	"context"
	"errors"
	"time"

	"lan_presence/internal/dataType"
	"lan_presence/internal/metrics"
)

type instrumented struct {
	next Registry
}

// Instrument wraps r so every operation is counted and timed.
func Instrument(r Registry) Registry {
	return &instrumented{next: r}
}

func observe(op string, t0 time.Time, err error) {
	metrics.RegistryOperationSeconds.WithLabelValues(op).Observe(time.Since(t0).Seconds())
	res := metrics.ResSuccess
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		res = metrics.ResNotFound
	case errors.Is(err, ErrAlreadyExists):
		res = metrics.ResAlreadyExists
	default:
		res = metrics.ResError
	}
	metrics.RegistryOperations.WithLabelValues(op, res).Inc()
}

func (i *instrumented) Create(ctx context.Context, identity string) (dataType.IdentityRecord, error) {
	t0 := time.Now()
	rec, err := i.next.Create(ctx, identity)
	observe(metrics.OpCreate, t0, err)
	return rec, err
}

func (i *instrumented) Get(ctx context.Context, identity string) (dataType.IdentityRecord, error) {
	t0 := time.Now()
	rec, err := i.next.Get(ctx, identity)
	observe(metrics.OpGet, t0, err)
	return rec, err
}

func (i *instrumented) Update(ctx context.Context, identity string, p dataType.Presence) (dataType.IdentityRecord, error) {
	t0 := time.Now()
	rec, err := i.next.Update(ctx, identity, p)
	observe(metrics.OpUpdate, t0, err)
	return rec, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
