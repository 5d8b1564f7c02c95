package sqlite

import (
	"context"
	"fmt"
	"time"
)

// PruneToolEvents deletes tool events older than maxAge and returns the
// number of rows removed. Tool events are high-volume diagnostics; the
// attribution history itself is kept.
func (s *AttributionStore) PruneToolEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()

	result, err := s.store.ExecContext(ctx, `DELETE FROM tool_events WHERE created_at_epoch < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune tool events: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return pruned, nil
}
