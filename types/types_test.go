package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID(t *testing.T) {
	assert.Equal(t, "p1_0", RecordID("p1", 0))
	assert.Equal(t, "a_b_12", RecordID("a_b", 12))
}

func TestSourceDocument_Records(t *testing.T) {
	doc := SourceDocument{
		ID:     "p1",
		Name:   "Widget",
		URL:    "https://shop.example/widget",
		Price:  9.99,
		Chunks: []string{"first", "second"},
	}

	records, err := doc.Records([][]float32{{1}, {2}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for i, rec := range records {
		assert.Equal(t, RecordID("p1", i), rec.ID)
		assert.Equal(t, i, rec.ChunkIndex)
		assert.Equal(t, doc.Chunks[i], rec.Text)
		assert.Equal(t, "Widget", rec.Name)
		assert.Equal(t, 9.99, rec.Price)
	}
	assert.Equal(t, []float32{2}, records[1].Embedding)

	_, err = doc.Records([][]float32{{1}})
	assert.Error(t, err)
}

func TestRunReport(t *testing.T) {
	r := NewRunReport()
	r.Results = []DocumentResult{
		{Path: "a.json", SourceID: "a", Chunks: 2, Inserted: 2},
		{Path: "b.json", Err: errors.New("boom")},
		{Path: "c.json", SourceID: "c", Chunks: 3, Existing: 3},
	}
	r.Skipped = []string{"d.json"}

	assert.Equal(t, 2, r.Succeeded())
	require.Len(t, r.Failed(), 1)
	assert.Equal(t, "b.json", r.Failed()[0].Path)
	assert.Equal(t, 5, r.TotalChunks())
	assert.EqualError(t, r.Err(), "b.json: boom")

	s := r.Summary()
	assert.Equal(t, r.RunID.String(), s.RunID)
	assert.Equal(t, 3, s.Documents)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 5, s.Chunks)
	assert.Equal(t, []string{"d.json"}, s.Skipped)
	assert.Equal(t, "boom", s.Results[1].Error)
	assert.Empty(t, s.Results[0].Error)

	assert.NoError(t, NewRunReport().Err())
}

func TestParseError(t *testing.T) {
	err := &ParseError{
		Path:   "p1.json",
		Fields: map[string]string{"url": "failed on 'required' tag", "id": "failed on 'required' tag"},
		Err:    ErrMissingField,
	}
	assert.Equal(t,
		"parse p1.json: invalid fields id(failed on 'required' tag) url(failed on 'required' tag): missing required field",
		err.Error())
	assert.ErrorIs(t, err, ErrMissingField)

	var target *ParseError
	wrapped := errors.Join(errors.New("other"), err)
	assert.ErrorAs(t, wrapped, &target)
}

func TestEmbeddingServiceError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewEmbeddingServiceError("embed", 0, "", cause)
	assert.Equal(t, "embedding service: embed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	err = NewEmbeddingServiceError("embed", 401, "bad key", nil)
	assert.Equal(t, "embedding service: embed (status 401): bad key", err.Error())
}

func TestPersistenceError(t *testing.T) {
	err := NewPersistenceError("upsert p1_0", ErrDimensionMismatch)
	assert.Equal(t, "persistence: upsert p1_0: embedding dimension mismatch", err.Error())
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestValidateStruct(t *testing.T) {
	type sample struct {
		Name  *string  `json:"name" validate:"required"`
		Price *float64 `json:"price" validate:"required,gte=0"`
	}

	zero := 0.0
	negative := -1.0
	name := "x"

	assert.Nil(t, ValidateStruct(sample{Name: &name, Price: &zero}))

	fields := ValidateStruct(sample{Price: &negative})
	assert.Equal(t, map[string]string{
		"name":  "failed on 'required' tag",
		"price": "failed on 'gte' tag",
	}, fields)
}
