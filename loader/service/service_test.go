package service

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productrag/loader/internal"
	"productrag/store"
	"productrag/types"
)

const testDim = 4

// stubEmbedder returns deterministic vectors. Texts listed in fail make the
// whole call fail; texts in wrongDim get a vector of the wrong length.
type stubEmbedder struct {
	mu       sync.Mutex
	fail     map[string]bool
	wrongDim map[string]bool
	calls    int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if e.fail[text] {
			return nil, types.NewEmbeddingServiceError("embed", http.StatusServiceUnavailable, "unavailable", nil)
		}
		dim := testDim
		if e.wrongDim[text] {
			dim++
		}
		v := make([]float32, dim)
		v[0] = float32(len(text))
		vectors[i] = v
	}
	return vectors, nil
}

func (e *stubEmbedder) Dimension() int { return testDim }

func writeDoc(t *testing.T, dir, name string, doc map[string]any) string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func product(id string, chunks ...string) map[string]any {
	return map[string]any{
		"id":     id,
		"name":   "Product " + id,
		"url":    "https://shop.example/" + id,
		"price":  10.5,
		"chunks": chunks,
	}
}

func newTestService(t *testing.T, embedder *stubEmbedder, opts ...Option) (*Service, *store.MemoryStore, string) {
	t.Helper()
	dir := t.TempDir()
	st := store.NewMemoryStore(testDim)
	opts = append([]Option{WithSource(dir, ".json")}, opts...)
	return New(st, embedder, opts...), st, dir
}

func TestService_IngestFile_Widget(t *testing.T) {
	svc, st, dir := newTestService(t, &stubEmbedder{})
	path := writeDoc(t, dir, "p1.json", map[string]any{
		"id":     "p1",
		"name":   "Widget",
		"url":    "https://shop.example/widget",
		"price":  9.99,
		"chunks": []string{"A small widget.", "Made of steel."},
	})

	res := svc.IngestFile(context.Background(), path)
	require.NoError(t, res.Err)
	assert.Equal(t, "p1", res.SourceID)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Existing)

	records, err := st.ListBySource(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "p1_0", records[0].ID)
	assert.Equal(t, 0, records[0].ChunkIndex)
	assert.Equal(t, "A small widget.", records[0].Text)
	assert.Equal(t, "p1_1", records[1].ID)
	assert.Equal(t, 1, records[1].ChunkIndex)
	assert.Equal(t, "Made of steel.", records[1].Text)
	for _, rec := range records {
		assert.Equal(t, "Widget", rec.Name)
		assert.Equal(t, "https://shop.example/widget", rec.URL)
		assert.Equal(t, 9.99, rec.Price)
		assert.Len(t, rec.Embedding, testDim)
	}
	assert.Equal(t, 0, st.OpenSessions())
}

func TestService_RunIsIdempotent(t *testing.T) {
	svc, st, dir := newTestService(t, &stubEmbedder{})
	writeDoc(t, dir, "p1.json", product("p1", "a", "b"))
	writeDoc(t, dir, "p2.json", product("p2", "c"))

	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Succeeded())
	assert.Equal(t, 3, first.TotalChunks())
	assert.Equal(t, 3, st.Len())

	second, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Len(), "re-running adds no rows")
	for _, res := range second.Results {
		assert.Equal(t, 0, res.Inserted)
		assert.Equal(t, res.Chunks, res.Existing)
	}
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestService_ChangedTextDoesNotOverwrite(t *testing.T) {
	svc, st, dir := newTestService(t, &stubEmbedder{})
	path := writeDoc(t, dir, "p1.json", product("p1", "first version"))

	require.NoError(t, svc.IngestFile(context.Background(), path).Err)

	writeDoc(t, dir, "p1.json", product("p1", "rewritten", "added"))
	res := svc.IngestFile(context.Background(), path)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Existing)

	rec, err := st.Get(context.Background(), "p1_0")
	require.NoError(t, err)
	assert.Equal(t, "first version", rec.Text)
	assert.Equal(t, float32(len("first version")), rec.Embedding[0])

	added, err := st.Get(context.Background(), "p1_1")
	require.NoError(t, err)
	assert.Equal(t, "added", added.Text)
}

func TestService_EmbeddingFailureWritesNothing(t *testing.T) {
	embedder := &stubEmbedder{fail: map[string]bool{"second": true}}
	svc, st, dir := newTestService(t, embedder)
	path := writeDoc(t, dir, "p1.json", product("p1", "first", "second", "third"))

	res := svc.IngestFile(context.Background(), path)
	require.Error(t, res.Err)

	var svcErr *types.EmbeddingServiceError
	assert.ErrorAs(t, res.Err, &svcErr)
	assert.Equal(t, 0, res.Chunks)
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, 0, st.OpenSessions())
}

func TestService_PersistenceFailureRollsBack(t *testing.T) {
	embedder := &stubEmbedder{wrongDim: map[string]bool{"second": true}}
	svc, st, dir := newTestService(t, embedder)
	path := writeDoc(t, dir, "p1.json", product("p1", "first", "second"))

	res := svc.IngestFile(context.Background(), path)
	require.Error(t, res.Err)

	var pErr *types.PersistenceError
	assert.ErrorAs(t, res.Err, &pErr)
	assert.ErrorIs(t, res.Err, types.ErrDimensionMismatch)
	assert.Equal(t, 0, st.Len(), "the staged first chunk is discarded")
	assert.Equal(t, 0, st.OpenSessions())
}

func TestService_ParseErrorOpensNoSession(t *testing.T) {
	embedder := &stubEmbedder{}
	svc, st, dir := newTestService(t, embedder)
	path := writeDoc(t, dir, "bad.json", map[string]any{"id": "p1", "name": "n", "url": "u"})

	res := svc.IngestFile(context.Background(), path)

	var parseErr *types.ParseError
	require.ErrorAs(t, res.Err, &parseErr)
	assert.Contains(t, parseErr.Fields, "price")
	assert.Equal(t, 0, embedder.calls)
	assert.Equal(t, 0, st.Len())
}

func TestService_EmptyChunks(t *testing.T) {
	svc, st, dir := newTestService(t, &stubEmbedder{})
	path := writeDoc(t, dir, "p1.json", map[string]any{"id": "p1", "name": "n", "url": "u", "price": 0})

	res := svc.IngestFile(context.Background(), path)
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.Chunks)
	assert.Equal(t, 0, st.Len())
}

func TestService_RunContinuesPastFailures(t *testing.T) {
	svc, st, dir := newTestService(t, &stubEmbedder{})
	writeDoc(t, dir, "a.json", product("a", "a0"))
	writeDoc(t, dir, "b.json", map[string]any{"id": "b"})
	writeDoc(t, dir, "c.json", product("c", "c0", "c1"))

	report, err := svc.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.Succeeded())
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, filepath.Join(dir, "b.json"), report.Failed()[0].Path)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, 3, report.TotalChunks())
	assert.Equal(t, 3, st.Len())
	assert.Error(t, report.Err())
}

func TestService_StopOnErrorSkipsTheRest(t *testing.T) {
	embedder := &stubEmbedder{fail: map[string]bool{"b0": true}}
	svc, st, dir := newTestService(t, embedder, WithStopOnError(true))
	writeDoc(t, dir, "a.json", product("a", "a0"))
	writeDoc(t, dir, "b.json", product("b", "b0"))
	writeDoc(t, dir, "c.json", product("c", "c0"))

	report, err := svc.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].OK())
	assert.False(t, report.Results[1].OK())
	assert.Equal(t, []string{filepath.Join(dir, "c.json")}, report.Skipped)

	_, err = st.Get(context.Background(), "a_0")
	assert.NoError(t, err, "documents before the failure stay committed")
	_, err = st.Get(context.Background(), "c_0")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_RunCancelled(t *testing.T) {
	svc, st, dir := newTestService(t, &stubEmbedder{})
	writeDoc(t, dir, "a.json", product("a", "a0"))
	writeDoc(t, dir, "b.json", product("b", "b0"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Skipped, 2)
	assert.Equal(t, 0, st.Len())
}

func TestService_RunMissingDirectory(t *testing.T) {
	svc := New(store.NewMemoryStore(testDim), &stubEmbedder{}, WithSource(filepath.Join(t.TempDir(), "missing"), ""))
	_, err := svc.Run(context.Background())
	assert.Error(t, err)
}

func TestService_RunDirStopOnErrorOverride(t *testing.T) {
	svc, st, dir := newTestService(t, &stubEmbedder{})
	writeDoc(t, dir, "a.json", map[string]any{"id": "a"})
	writeDoc(t, dir, "b.json", product("b", "b0"))

	report, err := svc.RunDir(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, []string{filepath.Join(dir, "b.json")}, report.Skipped)
	assert.Equal(t, 0, st.Len())
}

func TestService_IngestPendingSkipsVanishedFile(t *testing.T) {
	bad := t.TempDir()
	svc, st, dir := newTestService(t, &stubEmbedder{}, WithArchiver(internal.NewArchiver("", bad)))

	svc.ingestPending(context.Background(), filepath.Join(dir, "gone.json"))

	assert.Equal(t, 0, st.Len())
	entries, err := os.ReadDir(bad)
	require.NoError(t, err)
	assert.Empty(t, entries, "a file taken by another run is not a bad document")

	path := writeDoc(t, dir, "p1.json", product("p1", "one"))
	svc.ingestPending(context.Background(), path)
	assert.Equal(t, 1, st.Len())
}

func TestService_ArchivesHandledFiles(t *testing.T) {
	archive := t.TempDir()
	bad := t.TempDir()
	svc, _, dir := newTestService(t, &stubEmbedder{}, WithArchiver(internal.NewArchiver(archive, bad)))
	writeDoc(t, dir, "good.json", product("g", "g0"))
	writeDoc(t, dir, "bad.json", map[string]any{"id": "x"})

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded())

	day := time.Now().Format("2006-01-02")
	assert.FileExists(t, filepath.Join(archive, day, "good.json"))
	assert.FileExists(t, filepath.Join(bad, day, "bad.json"))

	left, err := svc.Documents()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestService_Watch(t *testing.T) {
	svc, st, dir := newTestService(t, &stubEmbedder{}, WithStableAfter(50*time.Millisecond))
	writeDoc(t, dir, "a.json", product("a", "a0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx) }()

	require.Eventually(t, func() bool { return st.Len() == 1 }, 5*time.Second, 20*time.Millisecond)

	writeDoc(t, dir, "b.json", product("b", "b0", "b1"))
	require.Eventually(t, func() bool { return st.Len() == 3 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
