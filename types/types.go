package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceDocument is one pre-chunked product document as produced by the crawler.
type SourceDocument struct {
	ID     string
	Name   string
	URL    string
	Price  float64
	Chunks []string // order becomes chunk_index
}

// EmbeddingRecord is one stored row: a chunk of a source document and its vector.
type EmbeddingRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Price      float64   `json:"price"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// RecordID returns the row id of chunk idx of the source document sourceID.
func RecordID(sourceID string, idx int) string {
	return fmt.Sprintf("%s_%d", sourceID, idx)
}

// Records builds one record per chunk, in chunk order.
func (d SourceDocument) Records(vectors [][]float32) ([]EmbeddingRecord, error) {
	if len(vectors) != len(d.Chunks) {
		return nil, fmt.Errorf("got %d vectors for %d chunks of %s", len(vectors), len(d.Chunks), d.ID)
	}

	records := make([]EmbeddingRecord, len(d.Chunks))
	for i, chunk := range d.Chunks {
		records[i] = EmbeddingRecord{
			ID:         RecordID(d.ID, i),
			Name:       d.Name,
			URL:        d.URL,
			Price:      d.Price,
			ChunkIndex: i,
			Text:       chunk,
			Embedding:  vectors[i],
		}
	}
	return records, nil
}

// DocumentResult is the outcome of ingesting a single document file.
type DocumentResult struct {
	Path     string        `json:"path"`
	SourceID string        `json:"source_id,omitempty"`
	Chunks   int           `json:"chunks"`
	Inserted int           `json:"inserted"`
	Existing int           `json:"existing"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// OK reports whether the document was committed.
func (r DocumentResult) OK() bool {
	return r.Err == nil
}

// RunReport aggregates the results of one pass over the source directory.
type RunReport struct {
	RunID      uuid.UUID        `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Results    []DocumentResult `json:"results"`
	Skipped    []string         `json:"skipped,omitempty"` // not attempted after an abort
}

func NewRunReport() RunReport {
	return RunReport{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}
}

func (r RunReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

func (r RunReport) Failed() []DocumentResult {
	var failed []DocumentResult
	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}
	return failed
}

// TotalChunks counts chunks of committed documents only.
func (r RunReport) TotalChunks() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n += res.Chunks
		}
	}
	return n
}

// Err joins the errors of all failed documents, nil when every document succeeded.
func (r RunReport) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Path, res.Err))
	}
	return errors.Join(errs...)
}
