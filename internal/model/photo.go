// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"

	"github.com/dharsanguruparan/PhotoDrop/internal/metadata"
)

// PhotoRecord is the durable description of one uploaded photo. Derivative
// paths stay nil until the processor has produced them.
type PhotoRecord struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"ownerId"`
	ContentHash    string            `json:"contentHash"`
	StoragePath    string            `json:"storagePath"`
	DisplayPath    *string           `json:"displayPath,omitempty"`
	ThumbPath      *string           `json:"thumbPath,omitempty"`
	ThumbSmallPath *string           `json:"thumbSmallPath,omitempty"`
	Metadata       metadata.Metadata `json:"metadata"`
	FileSize       int64             `json:"fileSize"`
	OriginalName   string            `json:"originalName"`
	ContentType    string            `json:"contentType"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// DerivativeStatus describes what one processing step did.
type DerivativeStatus string

const (
	DerivativeGenerated DerivativeStatus = "generated"
	// DerivativeSkipped means the object already existed.
	DerivativeSkipped   DerivativeStatus = "skipped"
	DerivativeFailed    DerivativeStatus = "failed"
	// DerivativeOmitted means the step was not requested for this run.
	DerivativeOmitted   DerivativeStatus = "omitted"
)

// DerivativeSummary reports the outcome of one processor run.
type DerivativeSummary struct {
	PhotoID    string           `json:"photoId"`
	Metadata   DerivativeStatus `json:"metadata"`
	Thumb      DerivativeStatus `json:"thumb"`
	ThumbSmall DerivativeStatus `json:"thumbSmall"`
	Display    DerivativeStatus `json:"display"`

	// Errors holds the message of every contained failure, keyed by step.
	Errors   map[string]string `json:"errors,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Fail records a contained step failure.
func (s *DerivativeSummary) Fail(step string, err error) {
	if s.Errors == nil {
		s.Errors = make(map[string]string)
	}
	s.Errors[step] = err.Error()
}
