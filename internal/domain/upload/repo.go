package upload

import (
	"context"

	"github.com/google/uuid"
)

type FileRepository interface {
	Create(ctx context.Context, f *UploadedFile) error
	Update(ctx context.Context, f *UploadedFile) error
	GetByID(ctx context.Context, id uuid.UUID) (*UploadedFile, error)
	List(ctx context.Context, limit, offset int) ([]*UploadedFile, int, error)
}

type EntryRepository interface {
	Create(ctx context.Context, e *ValidationEntry) error
	ListByFile(ctx context.Context, fileID uuid.UUID) ([]*ValidationEntry, error)
}
