package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
)

// FormationRequest is the admin payload for creating or updating a formation.
// Money fields are checked by the service since validator tags do not apply
// to decimal values.
type FormationRequest struct {
	Name                   string          `json:"name" validate:"required,min=3,max=100"`
	Description            string          `json:"description" validate:"required,min=10,max=2000"`
	Duration               string          `json:"duration" validate:"required,max=50"`
	Category               string          `json:"category" validate:"required,max=50"`
	Slug                   string          `json:"slug" validate:"omitempty,max=120"`
	Price                  decimal.Decimal `json:"price"`
	RegistrationFee        decimal.Decimal `json:"registrationFee"`
	OnPromotion            bool            `json:"onPromotion"`
	DiscountPercentage     decimal.Decimal `json:"discountPercentage"`
	PromoStart             *time.Time      `json:"promoStart,omitempty"`
	PromoEnd               *time.Time      `json:"promoEnd,omitempty"`
	SeatCapacity           *int            `json:"seatCapacity,omitempty" validate:"omitempty,min=1"`
	DisplayedEnrolledCount *int            `json:"displayedEnrolledCount,omitempty" validate:"omitempty,min=0"`
	SocialProofEnabled     bool            `json:"socialProofEnabled"`
	// ForceCapacity allows lowering capacity below the real enrollment count.
	ForceCapacity bool `json:"forceCapacity"`
}

// SocialProofRequest toggles marketing-adjusted enrollment numbers.
type SocialProofRequest struct {
	Enabled        bool `json:"enabled"`
	DisplayedCount int  `json:"displayedCount" validate:"min=0"`
}

// FormationListQuery captures public and admin listing parameters.
type FormationListQuery struct {
	Category  string `form:"category"`
	Search    string `form:"search"`
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
}

// FormationDetail is the public projection of one formation.
type FormationDetail struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Slug               string          `json:"slug"`
	Description        string          `json:"description"`
	Duration           string          `json:"duration"`
	Category           string          `json:"category"`
	Price              decimal.Decimal `json:"price"`
	FinalPrice         decimal.Decimal `json:"finalPrice"`
	RegistrationFee    decimal.Decimal `json:"registrationFee"`
	PromotionActive    bool            `json:"promotionActive"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	PromoStart         *time.Time      `json:"promoStart,omitempty"`
	PromoEnd           *time.Time      `json:"promoEnd,omitempty"`
	SeatCapacity       int             `json:"seatCapacity"`
	EnrolledCount      int             `json:"enrolledCount"`
	RemainingSeats     int             `json:"remainingSeats"`
	FillRate           float64         `json:"fillRate"`
	Full               bool            `json:"full"`
	CanEnroll          bool            `json:"canEnroll"`
	SocialProofMessage *string         `json:"socialProofMessage,omitempty"`
	ViewCount          int             `json:"viewCount"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// FormationSummary is the card shown in public listings.
type FormationSummary struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Slug               string          `json:"slug"`
	ShortDescription   string          `json:"shortDescription"`
	Duration           string          `json:"duration"`
	Category           string          `json:"category"`
	Price              decimal.Decimal `json:"price"`
	FinalPrice         decimal.Decimal `json:"finalPrice"`
	PromotionActive    bool            `json:"promotionActive"`
	RemainingSeats     int             `json:"remainingSeats"`
	Full               bool            `json:"full"`
	SocialProofMessage *string         `json:"socialProofMessage,omitempty"`
}

// FormationAdmin exposes the raw record plus computed indicators.
type FormationAdmin struct {
	models.Formation
	FinalPrice        decimal.Decimal `json:"final_price"`
	PromotionActive   bool            `json:"promotion_active"`
	RealFillRate      float64         `json:"real_fill_rate"`
	DisplayedFillRate float64         `json:"displayed_fill_rate"`
	RealRemaining     int             `json:"real_remaining_seats"`
	DisplayedRemain   int             `json:"displayed_remaining_seats"`
	PopularityScore   int             `json:"popularity_score"`
	DisplayCoherent   bool            `json:"display_coherent"`
}

// SocialProofState is returned after a social proof update.
type SocialProofState struct {
	FormationID            string  `json:"formationId"`
	Enabled                bool    `json:"enabled"`
	DisplayedEnrolledCount int     `json:"displayedEnrolledCount"`
	RealEnrolledCount      int     `json:"realEnrolledCount"`
	RealRemainingSeats     int     `json:"realRemainingSeats"`
	DisplayedRemaining     int     `json:"displayedRemainingSeats"`
	RealFillRate           float64 `json:"realFillRate"`
	DisplayedFillRate      float64 `json:"displayedFillRate"`
	Message                *string `json:"message,omitempty"`
	Coherent               bool    `json:"coherent"`
}

// FormationOption is an entry of the pre-registration selector.
type FormationOption struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	RemainingSeats int    `json:"remainingSeats"`
}

// EnrollmentResult is returned after an admitted enrollment.
type EnrollmentResult struct {
	FormationID    string `json:"formationId"`
	EnrolledCount  int    `json:"enrolledCount"`
	RemainingSeats int    `json:"remainingSeats"`
	Full           bool   `json:"full"`
}
