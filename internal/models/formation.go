package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Formation is a training offering published on the catalog.
type Formation struct {
	ID                 string          `db:"id" json:"id"`
	Name               string          `db:"name" json:"name"`
	Slug               string          `db:"slug" json:"slug"`
	Description        string          `db:"description" json:"description"`
	Duration           string          `db:"duration" json:"duration"`
	Category           string          `db:"category" json:"category"`
	Price              decimal.Decimal `db:"price" json:"price"`
	RegistrationFee    decimal.Decimal `db:"registration_fee" json:"registration_fee"`
	OnPromotion        bool            `db:"on_promotion" json:"on_promotion"`
	DiscountPercentage decimal.Decimal `db:"discount_percentage" json:"discount_percentage"`
	PromoStart         *time.Time      `db:"promo_start" json:"promo_start,omitempty"`
	PromoEnd           *time.Time      `db:"promo_end" json:"promo_end,omitempty"`

	SeatCapacity           int  `db:"seat_capacity" json:"seat_capacity"`
	RealEnrolledCount      int  `db:"real_enrolled_count" json:"real_enrolled_count"`
	DisplayedEnrolledCount int  `db:"displayed_enrolled_count" json:"displayed_enrolled_count"`
	SocialProofEnabled     bool `db:"social_proof_enabled" json:"social_proof_enabled"`

	ViewCount            int `db:"view_count" json:"view_count"`
	InfoRequestCount     int `db:"info_request_count" json:"info_request_count"`
	TotalEnrollmentCount int `db:"total_enrollment_count" json:"total_enrollment_count"`

	Active    bool      `db:"active" json:"active"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	UpdatedBy string    `db:"updated_by" json:"updated_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FormationFilter captures listing criteria for formations.
type FormationFilter struct {
	Active    *bool
	Category  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
