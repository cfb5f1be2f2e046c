package handlers

import (
	"sort"

	"github.com/gin-gonic/gin"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/middleware"
	"MegaBrain/pkg/response"
)

const defaultContactRelation = "보호자"

type myPageContact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Phone    string `json:"phone"`
	Priority int    `json:"priority"`
}

func firstNonEmpty(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func firstSet(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return models.FallbackPriority
}

// handleMyPage lists the accepted guardians as phone contacts. Unlike the
// guardian list, the caller's own label falls back to the partner's.
func (h *Handlers) handleMyPage(c *gin.Context) {
	user := middleware.CurrentUser(c)
	links, err := models.AcceptedGuardianLinks(h.db, user.ID)
	if err != nil {
		response.Error(c, err, errGuardianLoad)
		return
	}

	profiles := h.profiles(c.Request.Context(), partnerIDs(links, user.ID))
	contacts := make([]myPageContact, 0, len(links))
	for i := range links {
		l := &links[i]
		partnerID, partnerEmail := l.Partner(user.ID)
		entry := myPageContact{ID: l.ID, Name: userLabel(partnerEmail, "")}
		if p, ok := profiles[partnerID]; ok {
			entry.Name = p.Name
			entry.Phone = p.Phone
		}

		if l.RequesterUserID == user.ID {
			entry.Relation = firstNonEmpty(l.RequesterRelation, l.TargetRelation)
			entry.Priority = firstSet(l.RequesterPriority, l.TargetPriority)
		} else {
			entry.Relation = firstNonEmpty(l.TargetRelation, l.RequesterRelation)
			entry.Priority = firstSet(l.TargetPriority, l.RequesterPriority)
		}
		if entry.Relation == "" {
			entry.Relation = defaultContactRelation
		}
		contacts = append(contacts, entry)
	}
	sort.SliceStable(contacts, func(i, j int) bool {
		return sortPriority(contacts[i].Priority) < sortPriority(contacts[j].Priority)
	})

	response.OK(c, gin.H{"contacts": contacts})
}
