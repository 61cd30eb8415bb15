package model

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many model tokens a text takes.
type TokenCounter interface {
	Count(text string) int
}

// EstimateCounter assumes roughly four characters per token.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// tiktokenCounter loads the BPE encoding on first use and falls back to the
// estimate when it cannot be loaded (the encoding is fetched over the network).
type tiktokenCounter struct {
	model  string
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTokenCounter(model string, logger *slog.Logger) TokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &tiktokenCounter{model: model, logger: logger}
}

func (c *tiktokenCounter) Count(text string) int {
	c.once.Do(c.load)
	if c.enc == nil {
		return EstimateCounter{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) load() {
	enc, err := tiktoken.EncodingForModel(c.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		c.logger.Warn("[EMBEDDER] token encoding unavailable, estimating", "model", c.model, "err", err)
		return
	}
	c.enc = enc
}
