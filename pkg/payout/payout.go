// Package payout validates mobile-money withdrawal requests and prices them.
package payout

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"afggram/pkg/domain"
)

const (
	OpenHourUTC  = 7
	CloseHourUTC = 19
)

var (
	// MinimumAmount is the smallest amount a user may withdraw, in RWF.
	MinimumAmount = decimal.NewFromInt(1000)
	// FeeRate is charged on top of the requested amount.
	FeeRate = decimal.RequireFromString("0.10")

	phonePattern = regexp.MustCompile(`^07[2389][0-9]{7}$`)
)

// Rejection codes.
const (
	CodeOutsideHours        = "outside_hours"
	CodeBelowMinimum        = "below_minimum"
	CodeInsufficientBalance = "insufficient_balance"
	CodeInvalidPhone        = "invalid_phone"
	CodeInvalidMethod       = "invalid_method"
	CodeInvalidAmount       = "invalid_amount"
)

// Rejection is returned when a request fails a gate. Message is shown to the user as-is.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

// Request is a user-entered withdrawal. Amount is the raw form value and is
// parsed only once the time gate has passed.
type Request struct {
	Amount string
	Method domain.PayoutMethod
	Phone  string
}

// Quote is the priced request.
type Quote struct {
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Total  decimal.Decimal `json:"total"`
}

// Price computes the fee and total deduction for amount.
func Price(amount decimal.Decimal) Quote {
	fee := amount.Mul(FeeRate)
	return Quote{
		Amount: amount,
		Fee:    fee,
		Total:  amount.Add(fee),
	}
}

// Validate runs the gates in order and stops at the first failure.
// balance is what the user can spend right now.
func Validate(req Request, balance decimal.Decimal, now time.Time) (Quote, error) {
	if hour := now.UTC().Hour(); hour < OpenHourUTC || hour >= CloseHourUTC {
		return Quote{}, &Rejection{
			Code:    CodeOutsideHours,
			Message: "Withdrawals are only processed between 07:00 and 19:00 (UTC).",
		}
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return Quote{}, &Rejection{
			Code:    CodeInvalidAmount,
			Message: "Enter a valid amount.",
		}
	}
	if amount.LessThan(MinimumAmount) {
		return Quote{}, &Rejection{
			Code:    CodeBelowMinimum,
			Message: fmt.Sprintf("Minimum withdrawal is %s RWF.", MinimumAmount.String()),
		}
	}
	quote := Price(amount)
	if quote.Total.GreaterThan(balance) {
		return Quote{}, &Rejection{
			Code:    CodeInsufficientBalance,
			Message: fmt.Sprintf("Insufficient balance. You need %s RWF (including 10%% fee).", quote.Total.String()),
		}
	}
	if !ValidPhone(req.Phone) {
		return Quote{}, &Rejection{
			Code:    CodeInvalidPhone,
			Message: "Invalid phone number. Use the format 07XXXXXXXX.",
		}
	}
	switch req.Method {
	case domain.MethodMTN, domain.MethodAirtel:
	default:
		return Quote{}, &Rejection{
			Code:    CodeInvalidMethod,
			Message: "Choose MTN or Airtel as the payout method.",
		}
	}
	// Whole francs keep fee and total within the two stored decimal places.
	if !amount.Equal(amount.Truncate(0)) {
		return Quote{}, &Rejection{
			Code:    CodeInvalidAmount,
			Message: "Enter a whole number of RWF.",
		}
	}
	return quote, nil
}

// ValidPhone reports whether phone is a Rwandan mobile number in local form.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// ParseMethod maps an exact, lowercase method name to a PayoutMethod.
func ParseMethod(raw string) (domain.PayoutMethod, bool) {
	switch domain.PayoutMethod(raw) {
	case domain.MethodMTN, domain.MethodAirtel:
		return domain.PayoutMethod(raw), true
	}
	return "", false
}
