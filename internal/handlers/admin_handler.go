package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/payment-verification/internal/auth"
	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

type PendingLister interface {
	ListPending(ctx context.Context, filter models.QueueFilter) (models.QueuePage, error)
}

// AdminHandler serves the reviewer routes. Routes are mounted behind auth.RequireReviewer.
type AdminHandler struct {
	queue   PendingLister
	applier ActionApplier
	store   interfaces.EvidenceStore
}

func NewAdminHandler(queue PendingLister, applier ActionApplier, store interfaces.EvidenceStore) *AdminHandler {
	return &AdminHandler{queue: queue, applier: applier, store: store}
}

func (h *AdminHandler) Queue(c *gin.Context) {
	filter := models.QueueFilter{
		Method: models.PaymentMethod(strings.ToLower(strings.TrimSpace(c.Query("method")))),
	}

	if raw := c.Query("today"); raw != "" {
		today, err := strconv.ParseBool(raw)
		if err != nil {
			RespondDomainError(c, domain.ValidationError{Field: "today", Msg: "must be true or false"})
			return
		}
		filter.CreatedToday = today
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			RespondDomainError(c, domain.ValidationError{Field: "limit", Msg: "must be a number"})
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("after"); raw != "" {
		cursor, err := decodeCursor(raw)
		if err != nil {
			RespondDomainError(c, err)
			return
		}
		filter.After = cursor
	}

	page, err := h.queue.ListPending(c.Request.Context(), filter)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	items := make([]paymentView, 0, len(page.Records))
	for i := range page.Records {
		items = append(items, newPaymentView(&page.Records[i], h.store))
	}
	body := gin.H{"success": true, "payments": items}
	if page.Next != nil {
		body["next_cursor"] = encodeCursor(*page.Next)
	}
	c.JSON(http.StatusOK, body)
}

type actionRequest struct {
	PaymentID       int64  `json:"payment_id" binding:"required,gt=0"`
	Action          string `json:"action" binding:"required"`
	Note            string `json:"note" binding:"max=1000"`
	RejectionReason string `json:"rejection_reason" binding:"max=1000"`
	AssignedTo      string `json:"assigned_to" binding:"max=255"`
}

func (h *AdminHandler) Action(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondDomainError(c, domain.ValidationError{Msg: "invalid action request", Err: err})
		return
	}

	id, _ := auth.CurrentUser(c)
	rec, err := h.applier.Apply(c.Request.Context(), models.ReviewAction{
		PaymentID:       req.PaymentID,
		Action:          models.ReviewActionType(strings.ToLower(strings.TrimSpace(req.Action))),
		Actor:           id,
		Note:            req.Note,
		RejectionReason: req.RejectionReason,
		AssignTo:        req.AssignedTo,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondTransition(c, rec, h.store)
}

// Cursors are "<created_at unix nanos>_<id>".
func encodeCursor(cur models.QueueCursor) string {
	return fmt.Sprintf("%d_%d", cur.CreatedAt.UnixNano(), cur.ID)
}

func decodeCursor(raw string) (*models.QueueCursor, error) {
	invalid := domain.ValidationError{Field: "after", Msg: "malformed cursor"}
	ts, id, ok := strings.Cut(raw, "_")
	if !ok {
		return nil, invalid
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, invalid
	}
	recordID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || recordID <= 0 {
		return nil, invalid
	}
	return &models.QueueCursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: recordID}, nil
}
