package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GuardianshipExists reports whether the parent is linked to the child as a
// payer. A user is always their own guardian (direct adult members).
func (s *Store) GuardianshipExists(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error) {
	if parentUserID == childUserID {
		return true, nil
	}

	const q = `SELECT EXISTS(
		SELECT 1 FROM guardianships WHERE parent_user_id = $1 AND child_user_id = $2)`

	var exists bool
	if err := s.pool.QueryRow(ctx, q, pgUUID(parentUserID), pgUUID(childUserID)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check guardianship: %w", err)
	}
	return exists, nil
}
