package listeners

import (
	"go.uber.org/zap"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/sse"
	"MegaBrain/pkg/util"
)

// Event names pushed to the counterpart's stream.
const (
	EventGuardianRequested = "guardian.requested"
	EventGuardianUpdated   = "guardian.updated"
	EventGuardianRemoved   = "guardian.removed"
	EventSOSStarted        = "sos.started"
	EventSOSStopped        = "sos.stopped"
)

type guardianEvent struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	From   string `json:"from,omitempty"`
}

type sosEvent struct {
	ID        string   `json:"id"`
	From      string   `json:"from"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Precision *float64 `json:"precision,omitempty"`
	ExpiresAt *string  `json:"expiresAt,omitempty"`
}

func publish(hub *sse.Hub, userID, event string, v any) {
	if userID == "" {
		return
	}
	if err := hub.PublishToUser(userID, event, v); err != nil {
		logger.Warn("publish event failed", zap.String("event", event), zap.String("user_id", userID), zap.Error(err))
	}
}

// actor is the user id passed as the first param, if any.
func actor(params []any) string {
	if len(params) == 0 {
		return ""
	}
	id, _ := params[0].(string)
	return id
}

// InitGuardianListeners forwards committed guardian and SOS changes to the
// other party of each link.
func InitGuardianListeners(sig *util.Signals, hub *sse.Hub) {
	sig.Connect(models.SigGuardianRequested, func(sender any, params ...any) {
		link := sender.(*models.GuardianLink)
		publish(hub, link.TargetUserID, EventGuardianRequested, guardianEvent{
			ID:     link.ID,
			Status: link.Status,
			From:   link.RequesterEmail,
		})
	})

	sig.Connect(models.SigGuardianResponded, func(sender any, params ...any) {
		link := sender.(*models.GuardianLink)
		partnerID, _ := link.Partner(actor(params))
		publish(hub, partnerID, EventGuardianUpdated, guardianEvent{ID: link.ID, Status: link.Status})
	})

	sig.Connect(models.SigGuardianRemoved, func(sender any, params ...any) {
		link := sender.(*models.GuardianLink)
		partnerID, _ := link.Partner(actor(params))
		publish(hub, partnerID, EventGuardianRemoved, guardianEvent{ID: link.ID})
	})

	sig.Connect(models.SigSOSStarted, func(sender any, params ...any) {
		userID := actor(params)
		for _, link := range sender.([]models.GuardianLink) {
			partnerID, _ := link.Partner(userID)
			_, from := link.SOSOwner()
			publish(hub, partnerID, EventSOSStarted, sosEvent{
				ID:        link.ID,
				From:      from,
				Latitude:  link.SOSLatitude,
				Longitude: link.SOSLongitude,
				Precision: link.SOSPrecisionM,
				ExpiresAt: util.ISOTimePtr(link.SOSExpiresAt),
			})
		}
	})

	sig.Connect(models.SigSOSStopped, func(sender any, params ...any) {
		userID := actor(params)
		for _, link := range sender.([]models.GuardianLink) {
			partnerID, _ := link.Partner(userID)
			_, owner := link.SOSOwner()
			publish(hub, partnerID, EventSOSStopped, sosEvent{ID: link.ID, From: owner})
		}
	})
}
