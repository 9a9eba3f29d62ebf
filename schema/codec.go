package schema

import "encoding/json"

// EncodeSnapshot serializes a snapshot for the persistent store.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// DecodeSnapshot parses a stored snapshot. A missing item list decodes as empty.
func DecodeSnapshot(blob []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, err
	}
	if snap.Items == nil {
		snap.Items = []Item{}
	}
	return &snap, nil
}
