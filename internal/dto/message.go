package dto

import (
	"time"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
)

// ContactRequest is the public general contact form.
type ContactRequest struct {
	Name        string  `json:"name" validate:"required,min=2,max=100"`
	Email       string  `json:"email" validate:"required,email,max=150"`
	Phone       string  `json:"phone" validate:"omitempty,min=8,max=20"`
	City        string  `json:"city" validate:"omitempty,max=50"`
	Subject     string  `json:"subject" validate:"omitempty,max=100"`
	Body        string  `json:"message" validate:"required,min=10,max=2000"`
	FormationID *string `json:"formationId,omitempty" validate:"omitempty,uuid"`
	Source      string  `json:"source" validate:"omitempty,max=100"`
}

// PreRegistrationRequest is the public pre-registration form.
type PreRegistrationRequest struct {
	Name         string `json:"name" validate:"required,min=2,max=100"`
	Email        string `json:"email" validate:"required,email,max=150"`
	Phone        string `json:"phone" validate:"omitempty,min=8,max=20"`
	City         string `json:"city" validate:"omitempty,max=50"`
	FormationID  string `json:"formationId" validate:"required,uuid"`
	Availability string `json:"availability" validate:"omitempty,max=2000"`
	Body         string `json:"message" validate:"omitempty,max=2000"`
	Source       string `json:"source" validate:"omitempty,max=100"`
}

// ChangeStatusRequest moves a message along its lifecycle.
type ChangeStatusRequest struct {
	Status models.MessageStatus `json:"status" validate:"required,oneof=READ PROCESSED ARCHIVED"`
}

// MessageListQuery captures admin inbox filters.
type MessageListQuery struct {
	Status        string `form:"status"`
	Kind          string `form:"kind"`
	FormationName string `form:"formationName"`
	Email         string `form:"email"`
	Source        string `form:"source"`
	From          string `form:"from"`
	To            string `form:"to"`
	Page          int    `form:"page"`
	Limit         int    `form:"limit"`
}

// MessageReceipt is the public projection returned after a submission.
type MessageReceipt struct {
	ID            string               `json:"id"`
	Kind          models.MessageKind   `json:"kind"`
	Status        models.MessageStatus `json:"status"`
	Subject       string               `json:"subject"`
	FormationName string               `json:"formationName,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// MessageView is the admin projection with derived indicators.
type MessageView struct {
	models.Message
	Urgent        bool   `json:"urgent"`
	AgeHours      int    `json:"age_hours"`
	Stale         bool   `json:"stale"`
	Priority      int    `json:"priority"`
	SpamScore     int    `json:"spam_score"`
	BrowserFamily string `json:"browser_family"`
}
