package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-verification/internal/auth"
	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/evidence"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
)

type EvidenceHandler struct {
	store   interfaces.EvidenceStore
	records RecordReader
}

func NewEvidenceHandler(store interfaces.EvidenceStore, records RecordReader) *EvidenceHandler {
	return &EvidenceHandler{store: store, records: records}
}

// Serve streams one evidence file to a reviewer or to the learner whose record references it.
func (h *EvidenceHandler) Serve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondDomainError(c, domain.NotFoundError{Resource: "evidence"})
		return
	}
	ref := evidence.Ref(id)
	ctx := c.Request.Context()

	caller, _ := auth.CurrentUser(c)
	if !caller.IsReviewer {
		rec, err := h.records.GetByEvidenceRef(ctx, ref)
		if domain.IsNotFound(err) || (err == nil && rec.UserID != caller.UserID) {
			RespondDomainError(c, domain.NotFoundError{Resource: "evidence"})
			return
		}
		if err != nil {
			RespondDomainError(c, domain.PersistenceError{Op: "find evidence owner", Err: err})
			return
		}
	}

	file, err := h.store.Load(ctx, ref)
	if err != nil {
		if !domain.IsNotFound(err) {
			err = domain.PersistenceError{Op: "load evidence", Err: err}
		}
		RespondDomainError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.FileName))
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
