package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// exportVersion stamps every snapshot so downstream tooling can detect
// format changes.
const exportVersion = "1.0"

// Export builds a redacted point-in-time snapshot of everything the user
// owns. The store guarantees the read observes a single consistent view;
// this layer stamps identity and versioning.
func (s *Service) Export(ctx context.Context, userID string) (*ExportSnapshot, error) {
	snap, err := s.store.Export(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("build export snapshot: %w", err)
	}
	snap.ID = uuid.NewString()
	snap.ExportDate = s.now().UTC()
	snap.ExportVersion = exportVersion
	return snap, nil
}
