// Package models defines core data structures for documents, chunks, and conversations.
package models

import "time"

// Document is an uploaded source file. Content is released once the
// document has been processed into a session index.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Extension  string    `json:"extension"`
	Size       int       `json:"size"`
	Content    []byte    `json:"-"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Chunk is a window of the concatenated document text.
// Offset and Length are measured in runes.
type Chunk struct {
	ID           string `json:"id"`
	Index        int    `json:"index"`
	Text         string `json:"text"`
	Offset       int    `json:"offset"`
	Length       int    `json:"length"`
	Overlap      int    `json:"overlap"` // runes shared with the previous chunk
	DocumentID   string `json:"document_id,omitempty"`
	DocumentName string `json:"document_name,omitempty"`
}

// End returns the rune offset one past the last character of the chunk.
func (c Chunk) End() int {
	return c.Offset + c.Length
}

// ScoredChunk is a chunk returned by a retrieval query. Higher scores are better.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// DocumentFailure records a document skipped during processing.
type DocumentFailure struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	Reason       string `json:"reason"`
}

// ProcessReport summarizes a successful Process run.
type ProcessReport struct {
	Documents  int               `json:"documents"`
	Pages      int               `json:"pages"`
	Characters int               `json:"characters"`
	Chunks     int               `json:"chunks"`
	Dimensions int               `json:"dimensions"`
	Failed     []DocumentFailure `json:"failed,omitempty"`
	Duration   time.Duration     `json:"duration_ns"`
}
