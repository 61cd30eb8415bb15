package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct runs the struct tags of v and returns the failing fields, nil when valid.
func ValidateStruct(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"_": err.Error()}
	}
	fields := make(map[string]string, len(errs))
	for _, e := range errs {
		fields[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return fields
}

// RunParams are the optional knobs of a triggered ingestion run.
type RunParams struct {
	StopOnError bool `json:"stop_on_error"`
}

// RunSummary is the JSON view of a RunReport.
type RunSummary struct {
	RunID     string          `json:"run_id"`
	Documents int             `json:"documents"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Chunks    int             `json:"chunks"`
	Skipped   []string        `json:"skipped,omitempty"`
	Results   []DocumentState `json:"results"`
}

type DocumentState struct {
	Path     string `json:"path"`
	SourceID string `json:"source_id,omitempty"`
	Chunks   int    `json:"chunks"`
	Inserted int    `json:"inserted"`
	Existing int    `json:"existing"`
	Error    string `json:"error,omitempty"`
}

func (r RunReport) Summary() RunSummary {
	s := RunSummary{
		RunID:     r.RunID.String(),
		Documents: len(r.Results),
		Succeeded: r.Succeeded(),
		Failed:    len(r.Failed()),
		Chunks:    r.TotalChunks(),
		Skipped:   r.Skipped,
		Results:   make([]DocumentState, len(r.Results)),
	}
	for i, res := range r.Results {
		st := DocumentState{
			Path:     res.Path,
			SourceID: res.SourceID,
			Chunks:   res.Chunks,
			Inserted: res.Inserted,
			Existing: res.Existing,
		}
		if res.Err != nil {
			st.Error = res.Err.Error()
		}
		s.Results[i] = st
	}
	return s
}
