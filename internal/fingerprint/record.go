package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"admission-control/internal/domain"
)

// record é o registro de identidade persistido localmente
type record struct {
	DeviceID   string
	SessionID  string
	CreatedAt  time.Time
	Timestamps []time.Time
}

func (r record) fingerprint() domain.Fingerprint {
	return domain.Fingerprint{DeviceID: r.DeviceID, SessionID: r.SessionID, CreatedAt: r.CreatedAt}
}

// storedRecord é o formato JSON (timestamps em unix ms)
type storedRecord struct {
	DeviceID   string          `json:"deviceId"`
	SessionID  string          `json:"sessionId"`
	CreatedAt  int64           `json:"createdAt"`
	Timestamps json.RawMessage `json:"timestamps,omitempty"`
}

// storedState é o resultado da leitura do registro: ausente, corrompido ou válido
type storedState interface {
	isStoredState()
}

type absentRecord struct{}

type corruptRecord struct {
	reason string
}

type validRecord struct {
	record
}

func (absentRecord) isStoredState()  {}
func (corruptRecord) isStoredState() {}
func (validRecord) isStoredState()   {}

// decodeRecord valida a integridade estrutural; qualquer violação é corrupção, sem reparo parcial
func decodeRecord(value string, found bool) storedState {
	if !found || value == "" {
		return absentRecord{}
	}

	var stored storedRecord
	if err := json.Unmarshal([]byte(value), &stored); err != nil {
		return corruptRecord{reason: fmt.Sprintf("invalid json: %v", err)}
	}
	if stored.DeviceID == "" {
		return corruptRecord{reason: "empty deviceId"}
	}
	if stored.SessionID == "" {
		return corruptRecord{reason: "empty sessionId"}
	}
	if stored.CreatedAt <= 0 {
		return corruptRecord{reason: "missing createdAt"}
	}

	rec := record{
		DeviceID:  stored.DeviceID,
		SessionID: stored.SessionID,
		CreatedAt: time.UnixMilli(stored.CreatedAt),
	}

	raw := bytes.TrimSpace(stored.Timestamps)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if raw[0] != '[' {
			return corruptRecord{reason: "timestamps is not an array"}
		}
		var millis []int64
		if err := json.Unmarshal(raw, &millis); err != nil {
			return corruptRecord{reason: fmt.Sprintf("invalid timestamps: %v", err)}
		}
		for _, ms := range millis {
			rec.Timestamps = append(rec.Timestamps, time.UnixMilli(ms))
		}
	}

	return validRecord{rec}
}

func encodeRecord(rec record) (string, error) {
	millis := make([]int64, 0, len(rec.Timestamps))
	for _, ts := range rec.Timestamps {
		millis = append(millis, ts.UnixMilli())
	}
	timestamps, err := json.Marshal(millis)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(storedRecord{
		DeviceID:   rec.DeviceID,
		SessionID:  rec.SessionID,
		CreatedAt:  rec.CreatedAt.UnixMilli(),
		Timestamps: timestamps,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
