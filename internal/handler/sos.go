package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/errors"
	"MegaBrain/pkg/geo"
	"MegaBrain/pkg/middleware"
	"MegaBrain/pkg/response"
	"MegaBrain/pkg/util"
)

var (
	errNoEmail         = errors.WithCode(http.StatusBadRequest, "이메일 정보가 없는 계정입니다.")
	errUnreadableBody  = errors.WithCode(http.StatusBadRequest, "요청 본문을 확인할 수 없습니다.")
	errInvalidLocation = errors.WithCode(http.StatusBadRequest, "유효한 위치 정보가 필요합니다.")
)

const (
	errSOSLoad  = "SOS 정보를 불러오지 못했습니다."
	errSOSStart = "SOS 위치를 저장하지 못했습니다."
	errSOSStop  = "SOS 공유를 종료하지 못했습니다."
)

type startSOSBody struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

func (h *Handlers) handleStartSOS(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user.Email == "" {
		response.Error(c, errNoEmail, errSOSStart)
		return
	}

	var body startSOSBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, errUnreadableBody.WithCause(err), errSOSStart)
		return
	}
	if body.Latitude == nil || body.Longitude == nil ||
		!(geo.Point{Latitude: *body.Latitude, Longitude: *body.Longitude}).Valid() {
		response.Error(c, errInvalidLocation, errSOSStart)
		return
	}

	links, expiresAt, err := models.StartSOS(h.db, user.ID, user.Email, models.SOSLocation{
		Latitude:  *body.Latitude,
		Longitude: *body.Longitude,
		Precision: body.Accuracy,
	}, h.now(), h.cfg.SOSTTL())
	if err != nil {
		response.Error(c, err, errSOSStart)
		return
	}
	h.metrics.RecordSOS("started", len(links))
	h.sig.Emit(models.SigSOSStarted, links, user.ID)

	response.Success(c, gin.H{"expiresAt": util.ISOTime(expiresAt)})
}

func (h *Handlers) handleStopSOS(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user.Email == "" {
		response.Error(c, errNoEmail, errSOSStop)
		return
	}

	links, err := models.StopSOS(h.db, user.ID, user.Email, h.now())
	if err != nil {
		response.Error(c, err, errSOSStop)
		return
	}
	if len(links) > 0 {
		h.metrics.RecordSOS("stopped", len(links))
		h.sig.Emit(models.SigSOSStopped, links, user.ID)
	}

	response.Success(c, nil)
}

type sosSession struct {
	ID            string   `json:"id"`
	PartnerID     *string  `json:"partnerId"`
	PartnerName   string   `json:"partnerName"`
	PartnerEmail  *string  `json:"partnerEmail"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Precision     any      `json:"precision,omitempty"`
	TriggeredByMe bool     `json:"triggeredByMe"`
	StartedAt     *string  `json:"startedAt"`
	ExpiresAt     *string  `json:"expiresAt"`
}

// handleActiveSOS lists the live shares on the caller's links. The partner is
// the share's owner, the one who triggered it, for both parties.
func (h *Handlers) handleActiveSOS(c *gin.Context) {
	user := middleware.CurrentUser(c)
	links, err := models.ActiveSOSLinks(h.db, user.ID, h.now())
	if err != nil {
		response.Error(c, err, errSOSLoad)
		return
	}

	sessions := make([]sosSession, 0, len(links))
	if len(links) == 0 {
		response.OK(c, gin.H{"sessions": sessions})
		return
	}

	ownerIDs := make([]string, 0, len(links))
	for i := range links {
		id, _ := links[i].SOSOwner()
		ownerIDs = append(ownerIDs, id)
	}
	profiles := h.profiles(c.Request.Context(), ownerIDs)
	for i := range links {
		l := &links[i]
		partnerID, partnerEmail := l.SOSOwner()
		p, found := profiles[partnerID]
		name := ""
		if found {
			if p.Email != "" {
				partnerEmail = p.Email
			}
			name = p.Name
		}

		s := sosSession{
			ID:            l.ID,
			PartnerID:     strPtr(partnerID),
			PartnerName:   userLabel(partnerEmail, name),
			PartnerEmail:  strPtr(partnerEmail),
			TriggeredByMe: l.TriggeredBy(user.Email),
			StartedAt:     util.ISOTimePtr(l.SOSStartedAt),
			ExpiresAt:     util.ISOTimePtr(l.SOSExpiresAt),
		}
		if !s.TriggeredByMe {
			s.Latitude = l.SOSLatitude
			s.Longitude = l.SOSLongitude
			s.Precision = l.SOSPrecisionM
		}
		sessions = append(sessions, s)
	}

	response.OK(c, gin.H{"sessions": sessions})
}
