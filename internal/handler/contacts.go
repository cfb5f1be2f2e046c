package handlers

import (
	"math"

	"github.com/gin-gonic/gin"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/middleware"
	"MegaBrain/pkg/response"
)

const contactAuthMessage = "인증에 실패했습니다."

const (
	errContactLoad   = "연락처를 불러오지 못했습니다."
	errContactSave   = "연락처를 저장하지 못했습니다."
	errContactDelete = "연락처를 삭제하지 못했습니다."
)

type contactBody struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone"`
	Priority *float64 `json:"priority"`
	Relation string   `json:"relation"`
}

func (b contactBody) input() models.ContactInput {
	in := models.ContactInput{Name: b.Name, Phone: b.Phone, Relation: b.Relation}
	if b.Priority != nil && !math.IsNaN(*b.Priority) && *b.Priority >= 1 {
		in.Priority = int(math.Round(*b.Priority))
	}
	return in
}

func (h *Handlers) handleListContacts(c *gin.Context) {
	contacts, err := models.ListEmergencyContacts(h.db, middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err, errContactLoad)
		return
	}
	if contacts == nil {
		contacts = []models.EmergencyContact{}
	}
	response.OK(c, gin.H{"contacts": contacts})
}

func (h *Handlers) handleCreateContact(c *gin.Context) {
	var body contactBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, models.ErrContactInvalid.WithCause(err), errContactSave)
		return
	}
	contact, err := models.CreateEmergencyContact(h.db, middleware.CurrentUserID(c), body.input())
	if err != nil {
		response.Error(c, err, errContactSave)
		return
	}
	response.OK(c, gin.H{"contact": contact})
}

func (h *Handlers) handleUpdateContact(c *gin.Context) {
	var body contactBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, models.ErrContactInvalid.WithCause(err), errContactSave)
		return
	}
	contact, err := models.UpdateEmergencyContact(h.db, middleware.CurrentUserID(c), c.Param("id"), body.input())
	if err != nil {
		response.Error(c, err, errContactSave)
		return
	}
	response.OK(c, gin.H{"contact": contact})
}

func (h *Handlers) handleDeleteContact(c *gin.Context) {
	if err := models.DeleteEmergencyContact(h.db, middleware.CurrentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err, errContactDelete)
		return
	}
	response.Success(c, nil)
}
