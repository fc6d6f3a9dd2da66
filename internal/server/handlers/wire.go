package handlers

import (
	"github.com/maruel/recdb/internal/codec"
	"github.com/maruel/recdb/internal/jsonldb"
)

// WireRecord is a record serialized as a codec envelope, so extended types
// survive the round trip through HTTP.
type WireRecord struct {
	jsonldb.Record
}

// MarshalJSON implements json.Marshaler.
func (w WireRecord) MarshalJSON() ([]byte, error) {
	return codec.EncodeRecord(w.Record)
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *WireRecord) UnmarshalJSON(data []byte) error {
	r, err := codec.DecodeRecord(data)
	if err != nil {
		return err
	}
	w.Record = r
	return nil
}

func wireRecords(rows []jsonldb.Record) []WireRecord {
	out := make([]WireRecord, len(rows))
	for i, r := range rows {
		out[i] = WireRecord{r}
	}
	return out
}
