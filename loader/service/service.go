package service

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"productrag/loader/internal"
	"productrag/model"
	"productrag/store"
	"productrag/types"
)

// Service ingests document files: load, embed, persist. Documents are
// processed one at a time, and at most one store session is open.
type Service struct {
	logger   *slog.Logger
	store    store.DBStorer
	embedder model.EmbedderInterface
	archiver *internal.Archiver

	sourceDir   string
	ext         string
	stopOnError bool
	stableAfter time.Duration

	mu sync.Mutex
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithStopOnError makes Run abort at the first failed document.
func WithStopOnError(stop bool) Option {
	return func(s *Service) { s.stopOnError = stop }
}

func WithSource(dir, ext string) Option {
	return func(s *Service) {
		s.sourceDir = dir
		if ext != "" {
			s.ext = ext
		}
	}
}

func WithArchiver(a *internal.Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func WithStableAfter(d time.Duration) Option {
	return func(s *Service) { s.stableAfter = d }
}

func New(storer store.DBStorer, embedder model.EmbedderInterface, opts ...Option) *Service {
	s := &Service{
		logger:      slog.Default(),
		store:       storer,
		embedder:    embedder,
		sourceDir:   ".",
		ext:         ".json",
		stableAfter: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) SourceDir() string { return s.sourceDir }

func (s *Service) StopOnError() bool { return s.stopOnError }

// IngestFile ingests one document file. Failures are returned in the result.
func (s *Service) IngestFile(ctx context.Context, path string) types.DocumentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestFile(ctx, path, s.logger)
}

// Run ingests every document in the source directory.
func (s *Service) Run(ctx context.Context) (types.RunReport, error) {
	return s.RunDir(ctx, s.stopOnError)
}

// RunDir lists the source directory and ingests what it finds. Listing
// happens under the run lock so a concurrent watcher cannot move a listed
// file away first.
func (s *Service) RunDir(ctx context.Context, stopOnError bool) (types.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.Documents()
	if err != nil {
		report := types.NewRunReport()
		report.FinishedAt = time.Now()
		return report, err
	}
	return s.runFiles(ctx, files, stopOnError)
}

// Documents lists the document files waiting in the source directory.
func (s *Service) Documents() ([]string, error) {
	return internal.ListDocuments(s.sourceDir, s.ext)
}

// RunFiles ingests files in order. With stopOnError the first failure ends the
// run and the remaining files are reported as skipped; documents committed
// before stay committed. The error is only set when the run itself could not
// go on.
func (s *Service) RunFiles(ctx context.Context, files []string, stopOnError bool) (types.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runFiles(ctx, files, stopOnError)
}

func (s *Service) runFiles(ctx context.Context, files []string, stopOnError bool) (types.RunReport, error) {
	report := types.NewRunReport()
	logger := s.logger.With("run_id", report.RunID)
	logger.Info("ingestion run started", "documents", len(files), "stop_on_error", stopOnError)

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			report.Skipped = append(report.Skipped, files[i:]...)
			report.FinishedAt = time.Now()
			logger.Warn("ingestion run interrupted", "skipped", len(report.Skipped), "err", err)
			return report, err
		}

		res := s.ingestFile(ctx, path, logger)
		report.Results = append(report.Results, res)

		if !res.OK() && stopOnError {
			report.Skipped = append(report.Skipped, files[i+1:]...)
			logger.Error("aborting ingestion run", "file", path, "skipped", len(report.Skipped), "err", res.Err)
			break
		}
	}

	report.FinishedAt = time.Now()
	logger.Info("ingestion run finished",
		"succeeded", report.Succeeded(),
		"failed", len(report.Failed()),
		"skipped", len(report.Skipped),
		"chunks", report.TotalChunks(),
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// Watch ingests every document that lands in the source directory until ctx
// is done.
func (s *Service) Watch(ctx context.Context) error {
	watcher := internal.NewWatcher(s.sourceDir, s.ext, s.stableAfter, s.logger)
	fileChan := make(chan string, 10)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(fileChan)
		return watcher.Watch(gctx, fileChan)
	})
	g.Go(func() error {
		for path := range fileChan {
			if gctx.Err() != nil {
				continue
			}
			s.ingestPending(gctx, path)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("loader service stopped")
	return err
}

// ingestPending ingests path unless a run or an upload already took it away.
func (s *Service) ingestPending(ctx context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("file gone before ingestion", "file", path)
		return
	}
	s.ingestFile(ctx, path, s.logger)
}

func (s *Service) ingestFile(ctx context.Context, path string, logger *slog.Logger) (res types.DocumentResult) {
	start := time.Now()
	res.Path = path
	defer func() { res.Duration = time.Since(start) }()

	doc, err := internal.Load(path)
	if err != nil {
		res.Err = err
		logger.Error("failed to load document", "file", path, "err", err)
		s.archive(path, internal.StateBad, logger)
		return res
	}
	res.SourceID = doc.ID

	inserted, existing, err := s.ingest(ctx, doc)
	if err != nil {
		res.Err = err
		logger.Error("failed to ingest document", "file", path, "source_id", doc.ID, "err", err)
		return res
	}
	res.Chunks = len(doc.Chunks)
	res.Inserted = inserted
	res.Existing = existing

	logger.Info("ingested document",
		"file", path,
		"source_id", doc.ID,
		"chunks", res.Chunks,
		"inserted", inserted,
		"existing", existing)
	s.archive(path, internal.StateProcessed, logger)
	return res
}

// ingest embeds the chunks of doc and writes them in one session.
func (s *Service) ingest(ctx context.Context, doc types.SourceDocument) (inserted, existing int, err error) {
	vectors, err := s.embedder.EmbedTexts(ctx, doc.Chunks)
	if err != nil {
		return 0, 0, err
	}
	records, err := doc.Records(vectors)
	if err != nil {
		return 0, 0, types.NewEmbeddingServiceError("embed", 0, "vector count mismatch", err)
	}

	sess, err := s.store.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		// rollback must run even when ctx is cancelled
		if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	for _, rec := range records {
		ok, err := sess.Upsert(ctx, rec)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			inserted++
		} else {
			existing++
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return inserted, existing, nil
}

func (s *Service) archive(path string, state internal.FileState, logger *slog.Logger) {
	if !s.archiver.Enabled(state) {
		return
	}
	dest, err := s.archiver.MoveToArchive(path, state)
	if err != nil {
		logger.Warn("failed to move file", "file", path, "err", err)
		return
	}
	logger.Debug("file moved", "file", path, "dest", dest)
}
