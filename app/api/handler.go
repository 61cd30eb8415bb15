package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"productrag/types"
)

// uploadDir holds uploads while they are ingested. It is hidden and nested,
// so neither a directory run nor the watcher picks them up.
const uploadDir = ".uploads"

// Ingester is the part of the loader service the HTTP API drives.
type Ingester interface {
	Documents() ([]string, error)
	RunDir(ctx context.Context, stopOnError bool) (types.RunReport, error)
	IngestFile(ctx context.Context, path string) types.DocumentResult
	SourceDir() string
	StopOnError() bool
}

type IngestHandler struct {
	ingester Ingester
	ext      string
	logger   *slog.Logger
}

func NewIngestHandler(ingester Ingester, ext string, logger *slog.Logger) *IngestHandler {
	if ext == "" {
		ext = ".json"
	}
	return &IngestHandler{
		ingester: ingester,
		ext:      ext,
		logger:   logger,
	}
}

// HandleRun ingests every document waiting in the source directory.
func (h *IngestHandler) HandleRun(c *fiber.Ctx) error {
	var params types.RunParams
	if len(c.Body()) > 0 {
		if c.BodyParser(&params) != nil {
			return ErrBadRequest()
		}
	}

	report, err := h.ingester.RunDir(c.UserContext(), params.StopOnError || h.ingester.StopOnError())
	if err != nil {
		return err
	}
	return c.JSON(report.Summary())
}

// HandleUpload ingests the uploaded document from a staging directory. Only a
// document that failed for reasons other than its content is left in the
// source directory for the next run.
func (h *IngestHandler) HandleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	name := filepath.Base(file.Filename)
	if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), h.ext) {
		return ErrInvalidFile(fmt.Sprintf("file must have the %s extension", h.ext))
	}

	stageRoot := filepath.Join(h.ingester.SourceDir(), uploadDir)
	if err := os.MkdirAll(stageRoot, 0o755); err != nil {
		return err
	}
	stage, err := os.MkdirTemp(stageRoot, "upload-")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			h.logger.Warn("failed to remove upload staging dir", "dir", stage, "err", err)
		}
	}()

	path := filepath.Join(stage, name)
	if err := c.SaveFile(file, path); err != nil {
		return err
	}
	h.logger.Info("[UPLOAD] file saved", "file", path)

	res := h.ingester.IngestFile(c.UserContext(), path)
	if res.Err != nil {
		var parseErr *types.ParseError
		if errors.As(res.Err, &parseErr) {
			return fromParseError(parseErr)
		}
		h.keepForRetry(path, name)
		return res.Err
	}

	res.Path = name
	summary := types.RunReport{Results: []types.DocumentResult{res}}.Summary()
	return c.JSON(summary.Results[0])
}

// keepForRetry moves a staged upload into the source directory, replacing an
// older copy with the same name.
func (h *IngestHandler) keepForRetry(path, name string) {
	dest := filepath.Join(h.ingester.SourceDir(), name)
	if err := os.Rename(path, dest); err != nil {
		if !os.IsNotExist(err) {
			h.logger.Warn("failed to keep upload for retry", "file", path, "err", err)
		}
		return
	}
	h.logger.Info("[UPLOAD] file kept for the next run", "file", dest)
}
