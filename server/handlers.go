package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/dhcgn/mail-to-telegram/collect"
	"github.com/dhcgn/mail-to-telegram/mimetext"
	"github.com/dhcgn/mail-to-telegram/model"
	"github.com/dhcgn/mail-to-telegram/stats"
)

func (s *Server) health(c *gin.Context) {
	summary := s.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"received":       summary.Received,
		"forwarded":      summary.Forwarded,
		"deliveryFailed": summary.DeliveryFailed,
		"errors":         summary.Errors,
	})
}

// inbound takes a raw RFC 822 message as the request body. The recipient
// comes from the "to" query parameter or from the message headers.
func (s *Server) inbound(c *gin.Context) {
	id := c.GetString(requestIDKey)

	body := c.Request.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, s.cfg.MaxBodyBytes)
	}

	email := model.InboundEmail{
		ID:         id,
		To:         strings.TrimSpace(c.Query("to")),
		Source:     collect.FromReader(body, collect.DefaultChunkSize),
		ReceivedAt: time.Now(),
	}
	s.collector.Apply(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeReceived, MessageID: id})

	res, err := s.processor.Process(c.Request.Context(), email)
	if err != nil {
		s.collector.Apply(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeError, MessageID: id, Err: err})
		s.logger.Warn("inbound email rejected", "requestID", id, "err", err)
		status := statusFor(err)
		c.JSON(status, gin.H{"id": id, "error": http.StatusText(status)})
		return
	}

	if res.Delivered {
		if strings.TrimSpace(res.Notification.Body) == "" {
			s.collector.Apply(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeEmptyBody, MessageID: id})
		}
		s.collector.Apply(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeForwarded, MessageID: id})
	} else {
		s.collector.Apply(stats.Event{Stage: stats.StageForward, Type: stats.EventTypeDeliveryFailed, MessageID: id})
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":        id,
		"delivered": res.Delivered,
		"bytes":     res.Size,
	})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	var readErr *collect.StreamReadError
	switch {
	case errors.Is(err, mimetext.ErrBoundaryNotFound):
		return http.StatusUnprocessableEntity
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &readErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
