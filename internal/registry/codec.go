package registry

import (
	"fmt"

	"lan_presence/internal/dataType"

	"github.com/fxamacker/cbor/v2"
)

func marshalRecord(rec dataType.IdentityRecord) ([]byte, error) {
	b, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("registry: encode %s: %w", rec.Identity, err)
	}
	return b, nil
}

func unmarshalRecord(b []byte) (dataType.IdentityRecord, error) {
	var rec dataType.IdentityRecord
	if err := cbor.Unmarshal(b, &rec); err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("registry: decode record: %w", err)
	}
	return rec, nil
}
