package models

import (
	"context"
	"errors"
	"fmt"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageEmbedding  Stage = "embedding"
	StageGeneration Stage = "generation"
)

var (
	ErrExtraction           = errors.New("extraction failed")
	ErrEmbedding            = errors.New("embedding failed")
	ErrGeneration           = errors.New("generation failed")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrNoDocumentsProcessed = errors.New("no documents processed")
	ErrNoUploads            = errors.New("no documents uploaded")
	ErrEmptyQuestion        = errors.New("question cannot be empty")
	ErrUnsupportedFormat    = errors.New("unsupported format")
)

// StageError wraps a failure in one pipeline stage. Document is set for
// extraction failures.
type StageError struct {
	Stage    Stage
	Document string
	Err      error
}

func (e *StageError) Error() string {
	if e.Document != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.Document, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's stage.
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrExtraction:
		return e.Stage == StageExtraction
	case ErrEmbedding:
		return e.Stage == StageEmbedding
	case ErrGeneration:
		return e.Stage == StageGeneration
	}
	return false
}

// NewExtractionError returns a StageError for document.
func NewExtractionError(document string, err error) error {
	return &StageError{Stage: StageExtraction, Document: document, Err: err}
}

// NewEmbeddingError returns an embedding StageError. Errors that already
// carry a stage are returned unchanged.
func NewEmbeddingError(err error) error {
	return newStageError(StageEmbedding, err)
}

// NewGenerationError returns a generation StageError. Errors that already
// carry a stage are returned unchanged.
func NewGenerationError(err error) error {
	return newStageError(StageGeneration, err)
}

func newStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// DimensionMismatchError reports chunks and vectors that cannot form an index.
// Either the counts differ, or a vector has the wrong dimension.
type DimensionMismatchError struct {
	Chunks  int
	Vectors int
	Want    int
	Got     int
}

func (e *DimensionMismatchError) Error() string {
	if e.Chunks != e.Vectors {
		return fmt.Sprintf("dimension mismatch: %d chunks but %d vectors", e.Chunks, e.Vectors)
	}
	return fmt.Sprintf("dimension mismatch: expected %d dimensions, got %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// UserMessage returns a short message naming the failed stage, without
// internal detail, suitable for showing to an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *StageError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	case errors.As(err, &se):
		if se.Document != "" {
			return fmt.Sprintf("%s failed for %s", se.Stage, se.Document)
		}
		return fmt.Sprintf("%s failed", se.Stage)
	case errors.Is(err, ErrNoDocumentsProcessed):
		return "no documents processed yet; upload documents and run process first"
	case errors.Is(err, ErrNoUploads):
		return "no documents uploaded"
	case errors.Is(err, ErrEmptyQuestion):
		return ErrEmptyQuestion.Error()
	case errors.Is(err, ErrDimensionMismatch):
		return "index build failed"
	}
	return "internal error"
}
