// Package mirror copies channel records into queryable databases. Replicas
// are optional and derived: the JSONL channel files remain the source of
// truth, and every write is keyed by record ID so replay is idempotent.
package mirror

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ashita-ai/hookmeter/internal/model"
)

// Replica receives each record after it has been appended to its channel.
type Replica interface {
	Mirror(ctx context.Context, channel string, rec model.EventRecord) error
}

// recordID returns rec's ID, deriving a deterministic one from the channel,
// the record's 1-based position and its encoding when the record has none.
// Without it every id-less record would collide on the zero UUID.
func recordID(channel string, seq int, rec model.EventRecord) uuid.UUID {
	if rec.ID != uuid.Nil {
		return rec.ID
	}
	content, _ := json.Marshal(rec)
	return model.DerivedID(channel, seq, content)
}
