package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"productrag/types"
)

// rawDocument mirrors the crawler output. Pointers keep an absent key apart
// from its zero value.
type rawDocument struct {
	ID     *string           `json:"id" validate:"required,min=1"`
	Name   *string           `json:"name" validate:"required"`
	URL    *string           `json:"url" validate:"required"`
	Price  *float64          `json:"price" validate:"required,gte=0"`
	Chunks []json.RawMessage `json:"chunks"`
}

// Load reads one document file.
func Load(path string) (types.SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.SourceDocument{}, &types.ParseError{Path: path, Err: err}
	}
	return Decode(path, data)
}

// Decode parses the JSON document in data; path is only used in errors.
func Decode(path string, data []byte) (types.SourceDocument, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.SourceDocument{}, &types.ParseError{Path: path, Err: err}
	}

	if fields := types.ValidateStruct(raw); fields != nil {
		return types.SourceDocument{}, &types.ParseError{Path: path, Fields: fields, Err: types.ErrMissingField}
	}

	chunks := make([]string, 0, len(raw.Chunks))
	for i, msg := range raw.Chunks {
		var chunk string
		if err := json.Unmarshal(msg, &chunk); err != nil || string(msg) == "null" {
			return types.SourceDocument{}, &types.ParseError{
				Path:   path,
				Fields: map[string]string{"chunks": fmt.Sprintf("entry %d is not a string", i)},
			}
		}
		chunks = append(chunks, chunk)
	}

	return types.SourceDocument{
		ID:     *raw.ID,
		Name:   *raw.Name,
		URL:    *raw.URL,
		Price:  *raw.Price,
		Chunks: chunks,
	}, nil
}

// ListDocuments returns the regular files in dir ending in ext, sorted by name.
// Hidden files are skipped.
func ListDocuments(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isDocument(entry.Name(), ext) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	slices.Sort(files)
	return files, nil
}

func isDocument(name, ext string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ext)
}

// FileState selects the destination of MoveToArchive.
type FileState int

const (
	StateProcessed FileState = iota
	StateBad
)

// Archiver moves handled files out of the source directory. A zero-value
// directory disables the move for that state.
type Archiver struct {
	ArchiveDir string
	BadDir     string
	now        func() time.Time
}

func NewArchiver(archiveDir, badDir string) *Archiver {
	return &Archiver{ArchiveDir: archiveDir, BadDir: badDir, now: time.Now}
}

// Enabled reports whether files in state are moved at all.
func (a *Archiver) Enabled(state FileState) bool {
	return a != nil && a.dir(state) != ""
}

func (a *Archiver) dir(state FileState) string {
	if state == StateBad {
		return a.BadDir
	}
	return a.ArchiveDir
}

// MoveToArchive moves filePath into <dir>/<yyyy-mm-dd>/ and returns the new path.
// Name conflicts get a _N suffix.
func (a *Archiver) MoveToArchive(filePath string, state FileState) (string, error) {
	if !a.Enabled(state) {
		return filePath, nil
	}

	destDir := filepath.Join(a.dir(state), a.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))
	ext := filepath.Ext(destPath)
	baseName := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
	}

	if err := os.Rename(filePath, destPath); err != nil {
		return "", fmt.Errorf("error moving file to archive: %w", err)
	}
	return destPath, nil
}

// CreateDirectories creates every non-empty directory in dirs.
func CreateDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
