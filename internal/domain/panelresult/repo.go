package panelresult

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type GatingStrategyRepository interface {
	// GetOrCreate returns the strategy with the given label, creating it
	// if absent.
	GetOrCreate(ctx context.Context, name string) (*GatingStrategy, bool, error)
}

type SampleRepository interface {
	GetOrCreate(ctx context.Context, clinicalSampleID string, patientID uuid.UUID) (*ProcessedSample, bool, error)
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, limit, offset int) ([]*ProcessedSample, int, error)
}

type DataProcessingRepository interface {
	GetOrCreate(ctx context.Context, fcsFileName string, panelID uuid.UUID) (*DataProcessing, bool, error)
}

type ResultRepository interface {
	// GetOrCreate inserts r if no result with its 4-tuple exists;
	// otherwise it loads the existing row into r.
	GetOrCreate(ctx context.Context, r *Result) (bool, error)
	// SetUploadedFile stamps the result with the upload that last
	// touched it.
	SetUploadedFile(ctx context.Context, resultID, fileID uuid.UUID) error
	Count(ctx context.Context) (int, error)
}

// ValueRepository upserts typed observations; each upsert is unique on
// (result, parameter) and overwrites the prior value.
type ValueRepository interface {
	UpsertNumeric(ctx context.Context, resultID, parameterID uuid.UUID, value float64) error
	UpsertText(ctx context.Context, resultID, parameterID uuid.UUID, value string) error
	UpsertDate(ctx context.Context, resultID, parameterID uuid.UUID, value time.Time) error
	CountNumeric(ctx context.Context) (int, error)
	CountText(ctx context.Context) (int, error)
	CountDate(ctx context.Context) (int, error)
}
