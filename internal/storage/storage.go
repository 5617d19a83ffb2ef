// Package storage defines the archive of individual probe outcomes.
package storage

import (
	"context"
	"errors"
	"time"

	"serverwatch/internal/models"
)

// ErrNotFound is returned when a requested sample does not exist.
var ErrNotFound = errors.New("not found")

// ListSamplesParams filters archived samples.
type ListSamplesParams struct {
	Target string
	Since  time.Time
	Limit  int
}

// SampleStore archives probe outcomes for uptime reporting.
type SampleStore interface {
	RecordSample(ctx context.Context, sample *models.Sample) error
	GetSample(ctx context.Context, id string) (*models.Sample, error)
	ListSamples(ctx context.Context, params ListSamplesParams) ([]models.Sample, error)
	Close() error
}
