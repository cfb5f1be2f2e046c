package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/errors"
	"MegaBrain/pkg/middleware"
	"MegaBrain/pkg/response"
	"MegaBrain/pkg/supabase"
	"MegaBrain/pkg/util"
)

var (
	errEmailRequired  = errors.WithCode(http.StatusBadRequest, "이메일을 입력해주세요.")
	errUserNotFound   = errors.WithCode(http.StatusNotFound, "해당 이메일을 가진 사용자를 찾을 수 없습니다.")
	errUserLookup     = errors.WithCode(http.StatusInternalServerError, "사용자 조회에 실패했습니다.")
	errInvalidRequest = errors.WithCode(http.StatusBadRequest, "잘못된 요청입니다.")
	errIDRequired     = errors.WithCode(http.StatusBadRequest, "ID가 필요합니다.")
)

// fallback messages for uncoded failures
const (
	errGuardianLoad    = "보호자 정보를 불러오지 못했습니다."
	errGuardianSave    = "요청을 저장하지 못했습니다."
	errGuardianRespond = "요청 처리에 실패했습니다."
	errGuardianDelete  = "삭제에 실패했습니다."
)

type partnerView struct {
	ID    *string `json:"id"`
	Email *string `json:"email"`
	Name  string  `json:"name"`
	Phone *string `json:"phone"`
}

// sosView is the share attached to a guardian entry. Coordinates are left
// out for the party that triggered it; Precision is an interface so it can
// be omitted entirely or sent as an explicit null.
type sosView struct {
	TriggeredByMe bool     `json:"triggeredByMe"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Precision     any      `json:"precision,omitempty"`
	StartedAt     *string  `json:"startedAt"`
	ExpiresAt     *string  `json:"expiresAt"`
}

type guardianEntry struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	IsRequester bool        `json:"isRequester"`
	Partner     partnerView `json:"partner"`
	Relation    string      `json:"relation"`
	Priority    int         `json:"priority"`
	CreatedAt   string      `json:"created_at"`
	RespondedAt *string     `json:"responded_at"`
	SOS         *sosView    `json:"sos"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func buildSOSView(l *models.GuardianLink, viewerEmail string, now time.Time) *sosView {
	if l.SOSLatitude == nil || l.SOSLongitude == nil || !l.SOSActive(now, true) {
		return nil
	}
	v := &sosView{
		TriggeredByMe: l.TriggeredBy(viewerEmail),
		StartedAt:     util.ISOTimePtr(l.SOSStartedAt),
		ExpiresAt:     util.ISOTimePtr(l.SOSExpiresAt),
	}
	if !v.TriggeredByMe {
		v.Latitude = l.SOSLatitude
		v.Longitude = l.SOSLongitude
		v.Precision = l.SOSPrecisionM
	}
	return v
}

func (h *Handlers) guardianEntry(l *models.GuardianLink, user *supabase.User, profiles map[string]profile, now time.Time) guardianEntry {
	partnerID, partnerEmail := l.Partner(user.ID)
	p, found := profiles[partnerID]

	partner := partnerView{ID: strPtr(partnerID), Email: strPtr(partnerEmail), Name: userLabel(partnerEmail, "")}
	if found {
		if p.Email != "" {
			partner.Email = strPtr(p.Email)
		}
		partner.Name = p.Name
		partner.Phone = strPtr(p.Phone)
	}

	return guardianEntry{
		ID:          l.ID,
		Status:      l.Status,
		IsRequester: l.RequesterUserID == user.ID,
		Partner:     partner,
		Relation:    l.RelationFor(user.ID),
		Priority:    l.PriorityFor(user.ID),
		CreatedAt:   util.ISOTime(l.CreatedAt),
		RespondedAt: util.ISOTimePtr(l.RespondedAt),
		SOS:         buildSOSView(l, user.Email, now),
	}
}

func partnerIDs(links []models.GuardianLink, userID string) []string {
	ids := make([]string, 0, len(links))
	for i := range links {
		id, _ := links[i].Partner(userID)
		ids = append(ids, id)
	}
	return ids
}

func (h *Handlers) handleListGuardians(c *gin.Context) {
	user := middleware.CurrentUser(c)
	links, err := models.ListGuardianLinks(h.db, user.ID)
	if err != nil {
		response.Error(c, err, errGuardianLoad)
		return
	}

	now := h.now()
	profiles := h.profiles(c.Request.Context(), partnerIDs(links, user.ID))

	guardians := make([]guardianEntry, 0)
	incoming := make([]guardianEntry, 0)
	outgoing := make([]guardianEntry, 0)
	for i := range links {
		l := &links[i]
		entry := h.guardianEntry(l, user, profiles, now)
		switch l.Status {
		case models.StatusAccepted:
			guardians = append(guardians, entry)
		case models.StatusPending:
			if entry.IsRequester {
				outgoing = append(outgoing, entry)
			} else {
				incoming = append(incoming, entry)
			}
		}
	}
	sort.SliceStable(guardians, func(i, j int) bool {
		return sortPriority(guardians[i].Priority) < sortPriority(guardians[j].Priority)
	})

	response.OK(c, gin.H{
		"guardians":        guardians,
		"incomingRequests": incoming,
		"outgoingRequests": outgoing,
	})
}

// sortPriority treats an unset (zero) rank as last.
func sortPriority(p int) int {
	if p == 0 {
		return models.FallbackPriority
	}
	return p
}

type createGuardianBody struct {
	Email    string   `json:"email"`
	Relation string   `json:"relation"`
	Priority *float64 `json:"priority"`
}

func (h *Handlers) handleCreateGuardian(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var body createGuardianBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, errInvalidRequest.WithCause(err), errGuardianSave)
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" {
		response.Error(c, errEmailRequired, errGuardianSave)
		return
	}

	target, err := h.users.FindUserByEmail(c.Request.Context(), email)
	if errors.Is(err, supabase.ErrNotFound) {
		response.Error(c, errUserNotFound, errGuardianSave)
		return
	}
	if err != nil {
		response.Error(c, errUserLookup.WithCause(err), errGuardianSave)
		return
	}

	link, reused, err := models.CreateGuardianRequest(h.db, models.GuardianRequest{
		Requester: models.Party{UserID: user.ID, Email: user.Email},
		Target:    models.Party{UserID: target.ID, Email: target.Email},
		Relation:  body.Relation,
		Priority:  body.Priority,
	}, h.now())
	if err != nil {
		h.metrics.RecordGuardianOp("create", "error")
		response.Error(c, err, errGuardianSave)
		return
	}
	h.metrics.RecordGuardianOp("create", "ok")
	h.sig.Emit(models.SigGuardianRequested, link)

	if reused {
		response.Success(c, gin.H{"reused": true})
		return
	}
	response.Success(c, nil)
}

type updateGuardianBody struct {
	ID       string   `json:"id"`
	Action   string   `json:"action"`
	Decision string   `json:"decision"`
	Relation *string  `json:"relation"`
	Priority *float64 `json:"priority"`
}

// handleUpdateGuardian answers a pending request or revokes an accepted link.
func (h *Handlers) handleUpdateGuardian(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var body updateGuardianBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ID == "" {
		response.Error(c, errInvalidRequest, errGuardianRespond)
		return
	}

	var (
		link *models.GuardianLink
		err  error
		op   = body.Action
	)
	switch body.Action {
	case "respond":
		if body.Decision != "accept" && body.Decision != "decline" {
			response.Error(c, errInvalidRequest, errGuardianRespond)
			return
		}
		link, err = models.RespondGuardianRequest(h.db, body.ID, user.ID, models.GuardianResponse{
			Accept:   body.Decision == "accept",
			Relation: body.Relation,
			Priority: body.Priority,
		}, h.now())
	case "revoke":
		link, err = models.RevokeGuardianLink(h.db, body.ID, user.ID, h.now())
	default:
		response.Error(c, errInvalidRequest, errGuardianRespond)
		return
	}
	if err != nil {
		h.metrics.RecordGuardianOp(op, "error")
		response.Error(c, err, errGuardianRespond)
		return
	}
	h.metrics.RecordGuardianOp(op, "ok")
	h.sig.Emit(models.SigGuardianResponded, link, user.ID)

	response.Success(c, gin.H{"status": link.Status})
}

func (h *Handlers) handleDeleteGuardian(c *gin.Context) {
	user := middleware.CurrentUser(c)
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		response.Error(c, errIDRequired, errGuardianDelete)
		return
	}

	link, err := models.DeleteGuardianLink(h.db, id, user.ID)
	if err != nil {
		h.metrics.RecordGuardianOp("delete", "error")
		response.Error(c, err, errGuardianDelete)
		return
	}
	h.metrics.RecordGuardianOp("delete", "ok")
	h.sig.Emit(models.SigGuardianRemoved, link, user.ID)

	response.Success(c, nil)
}
