package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ulrichjack/institut-app-backend/internal/models"
	appErrors "github.com/Ulrichjack/institut-app-backend/pkg/errors"
)

const (
	lowSeatsThreshold      = 3
	crowdedThreshold       = 10
	shortDescriptionLength = 150
)

var hundred = decimal.NewFromInt(100)

// EffectiveDisplayedCount is the enrollment number shown to the public.
func EffectiveDisplayedCount(f *models.Formation) int {
	if f.SocialProofEnabled {
		return f.DisplayedEnrolledCount
	}
	return f.RealEnrolledCount
}

// RemainingSeats never returns a negative number.
func RemainingSeats(f *models.Formation, usingDisplayed bool) int {
	count := f.RealEnrolledCount
	if usingDisplayed {
		count = EffectiveDisplayedCount(f)
	}
	if remaining := f.SeatCapacity - count; remaining > 0 {
		return remaining
	}
	return 0
}

// FillRate returns the percentage of seats taken, 0 when capacity is unset.
func FillRate(f *models.Formation, usingDisplayed bool) float64 {
	if f.SeatCapacity <= 0 {
		return 0
	}
	count := f.RealEnrolledCount
	if usingDisplayed {
		count = EffectiveDisplayedCount(f)
	}
	return 100 * float64(count) / float64(f.SeatCapacity)
}

// IsFull only looks at real enrollments.
func IsFull(f *models.Formation) bool {
	return f.RealEnrolledCount >= f.SeatCapacity
}

// CanEnroll reports whether a new enrollment may be admitted.
func CanEnroll(f *models.Formation) bool {
	return f.Active && !IsFull(f)
}

// SocialProofMessage returns the marketing line for a formation. The second
// value is false when social proof is disabled.
func SocialProofMessage(f *models.Formation) (string, bool) {
	if !f.SocialProofEnabled {
		return "", false
	}
	displayed := EffectiveDisplayedCount(f)
	remaining := RemainingSeats(f, true)
	switch {
	case remaining > 0 && remaining <= lowSeatsThreshold:
		if remaining == 1 {
			return "Only 1 seat left!", true
		}
		return fmt.Sprintf("Only %d seats left!", remaining), true
	case remaining == 0:
		return "Formation full, waitlist available", true
	case displayed > crowdedThreshold:
		return fmt.Sprintf("%d people already enrolled", displayed), true
	case displayed > 0:
		return fmt.Sprintf("%d seats already reserved", displayed), true
	default:
		return "Be among the first to enroll!", true
	}
}

// IsPromotionActive evaluates the half-open promotion window [start, end).
func IsPromotionActive(f *models.Formation, now time.Time) bool {
	if !f.OnPromotion {
		return false
	}
	if f.PromoStart != nil && now.Before(*f.PromoStart) {
		return false
	}
	if f.PromoEnd != nil && !now.Before(*f.PromoEnd) {
		return false
	}
	return true
}

// PriceWithDiscount applies the active promotion to the base price.
func PriceWithDiscount(f *models.Formation, now time.Time) decimal.Decimal {
	if !IsPromotionActive(f, now) || f.DiscountPercentage.IsZero() {
		return f.Price
	}
	factor := decimal.NewFromInt(1).Sub(f.DiscountPercentage.Div(hundred))
	return f.Price.Mul(factor)
}

// ApplyEnrollment returns f with one more enrollment, or ErrFormationFull.
// Stores that can express a conditional update must not use this to gate
// admission; it exists for in-memory callers and for tests.
func ApplyEnrollment(f models.Formation) (models.Formation, error) {
	if !CanEnroll(&f) {
		return f, appErrors.Clone(appErrors.ErrFormationFull, fmt.Sprintf("formation %s is full, waitlist available", f.Name))
	}
	f.RealEnrolledCount++
	f.TotalEnrollmentCount++
	if !f.SocialProofEnabled {
		f.DisplayedEnrolledCount = f.RealEnrolledCount
	}
	return f, nil
}

// PopularityScore ranks formations for the admin catalog.
func PopularityScore(f *models.Formation, now time.Time) int {
	score := f.ViewCount/10 + f.TotalEnrollmentCount*5 + f.InfoRequestCount*2
	switch rate := FillRate(f, false); {
	case rate > 80:
		score += 20
	case rate > 60:
		score += 10
	}
	if IsPromotionActive(f, now) {
		score += 15
	}
	return score
}

// DisplayCoherent reports whether the displayed count stays within the
// tolerated margin above capacity.
func DisplayCoherent(f *models.Formation, tolerance float64) bool {
	limit := int(math.Floor(float64(f.SeatCapacity)*(1+tolerance) + 1e-9))
	return f.DisplayedEnrolledCount <= limit
}

// ShortDescription truncates text for listings, preferring a word boundary
// when one falls in the last fifth of the limit.
func ShortDescription(text string, limit int) string {
	if limit <= 0 {
		limit = shortDescriptionLength
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	cut := string(runes[:limit])
	if idx := strings.LastIndex(cut, " "); idx > 0 && len([]rune(cut[:idx])) > limit*4/5 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ") + "..."
}
