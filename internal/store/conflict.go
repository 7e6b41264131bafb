package store

import (
	"errors"
	"fmt"

	"github.com/identikit/identikit/internal/common"
	"github.com/identikit/identikit/internal/docstore"
)

// classifyCommit maps a commit failure onto the error taxonomy. A conflict
// on a key this session tried to create means a uniqueness claim lost
// (ErrDuplicateValue); a version mismatch on a previously loaded document
// means an unrelated concurrent change (ErrConcurrentModification). Neither
// is retried here: the batch was discarded as a whole and the caller must
// reload before trying again.
func classifyCommit(err error) error {
	if err == nil {
		return nil
	}
	var conflict *docstore.ConflictError
	if !errors.As(err, &conflict) {
		return fmt.Errorf("commit: %w", err)
	}
	if len(conflict.CreateKeys) > 0 {
		return fmt.Errorf("%w: %v", common.ErrDuplicateValue, conflict.CreateKeys)
	}
	return fmt.Errorf("%w: %v", common.ErrConcurrentModification, conflict.UpdateKeys)
}
