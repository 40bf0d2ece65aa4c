package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"go.uber.org/zap"
)

// UploadURLPrefix is where stored files are served from.
const UploadURLPrefix = "/uploads/"

// UploadService stores user files on local disk under unique names.
type UploadService struct {
	Dir    string
	logger *zap.Logger
}

func NewUploadService(dir string, logger *zap.Logger) (*UploadService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadService{Dir: dir, logger: logger}, nil
}

// Save writes r to <uuid><ext of name> and returns the public URL.
func (s *UploadService) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	_, span := tracer.Start(ctx, "UploadService.Save")
	defer span.End()

	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	stored := uuid.NewString() + ext

	f, err := os.OpenFile(filepath.Join(s.Dir, stored), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errors.Internal("failed to store upload", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(filepath.Join(s.Dir, stored))
		return "", errors.Internal("failed to store upload", err)
	}

	s.logger.Info("stored upload", zap.String("name", name), zap.String("file", stored), zap.Int64("bytes", n))
	return path.Join(UploadURLPrefix, stored), nil
}
