// Package evidence validates uploaded proof files and hands them to an evidence store.
package evidence

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

var allowedTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

type Intake struct {
	store    interfaces.EvidenceStore
	maxFiles int
	maxBytes int64
}

func NewIntake(store interfaces.EvidenceStore, maxFiles int, maxBytes int64) *Intake {
	return &Intake{store: store, maxFiles: maxFiles, maxBytes: maxBytes}
}

// MaxFiles is the number of files a single submission may carry, receipt included.
func (in *Intake) MaxFiles() int { return in.maxFiles }

// MaxBytes is the per-file size limit.
func (in *Intake) MaxBytes() int64 { return in.maxBytes }

// ReadMultipart loads uploaded parts into memory, refusing anything over the limits
// before reading more than maxBytes+1 of a part.
func (in *Intake) ReadMultipart(headers []*multipart.FileHeader) ([]models.EvidenceFile, error) {
	if len(headers) > in.maxFiles {
		return nil, domain.ValidationError{Field: "proofs", Msg: fmt.Sprintf("at most %d files may be uploaded", in.maxFiles)}
	}

	files := make([]models.EvidenceFile, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > in.maxBytes {
			return nil, tooLarge(fh.Filename, in.maxBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, domain.ValidationError{Field: "proofs", Msg: "unreadable upload", Err: err}
		}
		data, err := io.ReadAll(io.LimitReader(f, in.maxBytes+1))
		_ = f.Close()
		if err != nil {
			return nil, domain.ValidationError{Field: "proofs", Msg: "unreadable upload", Err: err}
		}
		files = append(files, models.EvidenceFile{FileName: fh.Filename, Data: data})
	}
	return files, nil
}

// Check enforces count, size and content type on files and fills in the detected type.
func (in *Intake) Check(files []models.EvidenceFile) error {
	if len(files) > in.maxFiles {
		return domain.ValidationError{Field: "proofs", Msg: fmt.Sprintf("at most %d files may be uploaded", in.maxFiles)}
	}
	for i := range files {
		f := &files[i]
		if len(f.Data) == 0 {
			return domain.ValidationError{Field: "proofs", Msg: fmt.Sprintf("%s is empty", displayName(f.FileName))}
		}
		if int64(len(f.Data)) > in.maxBytes {
			return tooLarge(f.FileName, in.maxBytes)
		}
		detected := mimetype.Detect(f.Data).String()
		if semi := strings.IndexByte(detected, ';'); semi >= 0 {
			detected = detected[:semi]
		}
		if !allowedTypes[detected] {
			return domain.ValidationError{
				Field: "proofs",
				Msg:   fmt.Sprintf("%s must be a JPEG, PNG, WebP image or a PDF", displayName(f.FileName)),
			}
		}
		f.ContentType = detected
		f.FileName = displayName(f.FileName)
	}
	return nil
}

// StoreAll persists files in order. If one fails, the ones already stored are discarded.
func (in *Intake) StoreAll(ctx context.Context, files []models.EvidenceFile) ([]string, error) {
	refs := make([]string, 0, len(files))
	for _, f := range files {
		ref, err := in.store.Store(ctx, f)
		if err != nil {
			in.Discard(context.WithoutCancel(ctx), refs)
			return nil, domain.PersistenceError{Op: "store evidence", Err: err}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Discard removes stored evidence that ended up unreferenced. Failures are only logged.
func (in *Intake) Discard(ctx context.Context, refs []string) {
	if len(refs) == 0 {
		return
	}
	if err := in.store.Discard(ctx, refs); err != nil {
		telemetry.Logger.Warn("Failed to discard orphaned evidence",
			zap.Strings("refs", refs),
			zap.Error(err),
		)
	}
}

func tooLarge(name string, limit int64) error {
	return domain.ValidationError{
		Field: "proofs",
		Msg:   fmt.Sprintf("%s exceeds the %d KiB limit", displayName(name), limit>>10),
	}
}

func displayName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}
