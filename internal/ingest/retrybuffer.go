package ingest

import (
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/finrisk/valuation-service/internal/domain"
)

// RetryBuffer persists ticks that failed to write to the database so
// they survive a process restart and can be replayed once persistence
// succeeds again — the mechanism that lets a transient outage still
// recover the missed prices instead of just moving on.
type RetryBuffer struct {
	path string
}

// NewRetryBuffer returns a buffer backed by the msgpack-encoded file at
// path. The file is created lazily on first Save.
func NewRetryBuffer(path string) *RetryBuffer {
	return &RetryBuffer{path: path}
}

// Save overwrites the buffer with ticks, encoded as msgpack for a
// compact, schema-light on-disk representation.
func (b *RetryBuffer) Save(ticks []domain.TickPoint) error {
	if len(ticks) == 0 {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
			return domain.NewError(domain.Serialization, "clearing retry buffer", err)
		}
		return nil
	}
	data, err := msgpack.Marshal(ticks)
	if err != nil {
		return domain.NewError(domain.Serialization, "encoding retry buffer", err)
	}
	return os.WriteFile(b.path, data, 0o644)
}

// Load reads any buffered ticks left over from a previous run. A
// missing file is not an error — it means nothing was pending.
func (b *RetryBuffer) Load() ([]domain.TickPoint, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.NewError(domain.Serialization, "reading retry buffer", err)
	}
	var ticks []domain.TickPoint
	if err := msgpack.Unmarshal(data, &ticks); err != nil {
		return nil, domain.NewError(domain.Serialization, "decoding retry buffer", err)
	}
	return ticks, nil
}
