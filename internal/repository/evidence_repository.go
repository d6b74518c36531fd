package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/evidence"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

// EvidenceRepository keeps proof files in their own table so payment records only carry references.
type EvidenceRepository struct {
	db      *sql.DB
	baseURL string
}

func NewEvidenceRepository(db *sql.DB, publicBaseURL string) *EvidenceRepository {
	return &EvidenceRepository{db: db, baseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (r *EvidenceRepository) InitDB() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS evidence_blobs (
		id UUID PRIMARY KEY,
		file_name VARCHAR(255) NOT NULL,
		content_type VARCHAR(100) NOT NULL,
		size_bytes BIGINT NOT NULL,
		data BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

func (r *EvidenceRepository) Store(ctx context.Context, file models.EvidenceFile) (string, error) {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO evidence_blobs (id, file_name, content_type, size_bytes, data)
		VALUES ($1, $2, $3, $4, $5)
	`, id.String(), file.FileName, file.ContentType, len(file.Data), file.Data)
	if err != nil {
		return "", err
	}
	return evidence.Ref(id), nil
}

func (r *EvidenceRepository) Load(ctx context.Context, ref string) (*models.EvidenceFile, error) {
	id, err := evidence.ParseRef(ref)
	if err != nil {
		return nil, err
	}

	var f models.EvidenceFile
	err = r.db.QueryRowContext(ctx,
		`SELECT file_name, content_type, data FROM evidence_blobs WHERE id = $1`, id.String(),
	).Scan(&f.FileName, &f.ContentType, &f.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "evidence", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *EvidenceRepository) Discard(ctx context.Context, refs []string) error {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := evidence.ParseRef(ref)
		if err != nil {
			continue
		}
		ids = append(ids, id.String())
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM evidence_blobs WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	return err
}

// Resolve turns a reference into the URL the evidence route serves it from.
func (r *EvidenceRepository) Resolve(ref string) string {
	id, err := evidence.ParseRef(ref)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s/evidence/%s", r.baseURL, id)
}
