package ebook

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/bookvox/internal/subproc"
)

// OCRClient recognizes text on rasterized pages by piping PNG data through
// the tesseract binary. One page per invocation keeps recognitions
// individually cancellable.
type OCRClient struct {
	runner   *subproc.Runner
	binary   string
	language string
}

// OCRConfig configures the tesseract invocation.
type OCRConfig struct {
	Binary   string        // defaults to "tesseract"
	Language string        // tesseract language code, defaults to "eng"
	Timeout  time.Duration // per-page timeout, defaults to 2 minutes
}

// NewOCRClient validates that tesseract is reachable and returns a client.
func NewOCRClient(cfg OCRConfig) (*OCRClient, error) {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if _, err := subproc.LookPath(cfg.Binary); err != nil {
		return nil, err
	}
	return &OCRClient{
		runner:   subproc.NewRunner(cfg.Timeout),
		binary:   cfg.Binary,
		language: cfg.Language,
	}, nil
}

// Recognize runs tesseract over one rendered page image.
func (c *OCRClient) Recognize(ctx context.Context, pageImage []byte) (string, error) {
	args := []string{"stdin", "stdout", "-l", c.language, "--psm", "3"}
	res, err := c.runner.Run(ctx, bytes.NewReader(pageImage), c.binary, args...)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}
