package registry

import (
	"context"

	"lan_presence/internal/dataType"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memory keeps records in a concurrent map. Contents are lost on exit.
type Memory struct {
	records *xsync.MapOf[string, dataType.IdentityRecord]
}

func NewMemory() *Memory {
	return &Memory{records: xsync.NewMapOf[string, dataType.IdentityRecord]()}
}

func (m *Memory) Create(_ context.Context, identity string) (dataType.IdentityRecord, error) {
	rec := newRecord(identity)
	if _, loaded := m.records.LoadOrStore(identity, rec); loaded {
		return dataType.IdentityRecord{}, ErrAlreadyExists
	}
	return rec, nil
}

func (m *Memory) Get(_ context.Context, identity string) (dataType.IdentityRecord, error) {
	rec, ok := m.records.Load(identity)
	if !ok {
		return dataType.IdentityRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Update(_ context.Context, identity string, p dataType.Presence) (dataType.IdentityRecord, error) {
	rec, ok := m.records.Compute(identity, func(old dataType.IdentityRecord, loaded bool) (dataType.IdentityRecord, bool) {
		if !loaded {
			return old, true
		}
		return old.WithPresence(p), false
	})
	if !ok {
		return dataType.IdentityRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) Close() error {
	return nil
}
