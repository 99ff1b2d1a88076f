package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/railzwaylabs/stockflow/internal/domain/deadletter"
)

type deadLetterPayload struct {
	ID              int64           `json:"id,string"`
	OriginalEventID int64           `json:"original_event_id,string"`
	AggregateID     string          `json:"aggregate_id"`
	AggregateType   string          `json:"aggregate_type"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	RetryCount      int             `json:"retry_count"`
	FailureReason   string          `json:"failure_reason"`
	MovedToDLQAt    time.Time       `json:"moved_to_dlq_at"`
	Resolved        bool            `json:"resolved"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
}

func deadLetterResponse(e *deadletter.Event) deadLetterPayload {
	payload := json.RawMessage(e.Payload)
	if !json.Valid(payload) {
		encoded, _ := json.Marshal(string(e.Payload))
		payload = encoded
	}
	return deadLetterPayload{
		ID:              e.ID,
		OriginalEventID: e.OriginalEventID,
		AggregateID:     e.AggregateID,
		AggregateType:   e.AggregateType,
		EventType:       string(e.EventType),
		Payload:         payload,
		RetryCount:      e.RetryCount,
		FailureReason:   e.FailureReason,
		MovedToDLQAt:    e.MovedToDLQAt,
		Resolved:        e.Resolved,
		ResolvedAt:      e.ResolvedAt,
		ResolvedBy:      e.ResolvedBy,
	}
}

func (r *Router) GetUnresolvedDeadLetters(c *gin.Context) {
	events, err := r.dlq.GetUnresolvedEvents(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	out := make([]deadLetterPayload, 0, len(events))
	for _, e := range events {
		out = append(out, deadLetterResponse(e))
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) GetDeadLetterStats(c *gin.Context) {
	stats, err := r.dlq.GetStats(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (r *Router) GetDeadLetter(c *gin.Context) {
	id, ok := parseDeadLetterID(c)
	if !ok {
		return
	}
	event, err := r.dlq.GetEvent(c.Request.Context(), id)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, deadLetterResponse(event))
}

func (r *Router) ReprocessDeadLetter(c *gin.Context) {
	id, ok := parseDeadLetterID(c)
	if !ok {
		return
	}

	event, err := r.dlq.ReprocessEvent(c.Request.Context(), id)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
			c.JSON(status, gin.H{"error": "failed to reprocess event"})
			return
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "reprocessed",
		"event":  deadLetterResponse(event),
	})
}

func (r *Router) ResolveDeadLetter(c *gin.Context) {
	id, ok := parseDeadLetterID(c)
	if !ok {
		return
	}

	event, err := r.dlq.MarkAsResolved(c.Request.Context(), id, c.Query("resolvedBy"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "resolved",
		"event":  deadLetterResponse(event),
	})
}

func parseDeadLetterID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
