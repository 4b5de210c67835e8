package store

import (
	"context"

	"github.com/starford/loom/internal/models"
)

// ObjectStore defines the object operations of the local cache. Consumers
// should depend on this interface rather than the concrete *DB type to
// facilitate testing with fakes.
type ObjectStore interface {
	GetObject(ctx context.Context, id string) (*models.Object, error)
	AllObjects(ctx context.Context) ([]*models.Object, error)
	UpsertObject(ctx context.Context, obj *models.Object) error
	DeleteObject(ctx context.Context, id string) error
	FindByRemoteID(ctx context.Context, fileID string) (*models.Object, error)
	SetRemote(ctx context.Context, id string, ref models.RemoteRef) error
}

// Verify *DB satisfies ObjectStore at compile time.
var _ ObjectStore = (*DB)(nil)
