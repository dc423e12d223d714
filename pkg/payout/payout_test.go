package payout

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"afggram/pkg/domain"
)

func at(hour int) time.Time {
	return time.Date(2025, 3, 14, hour, 30, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validRequest(amount string) Request {
	return Request{Amount: amount, Method: domain.MethodMTN, Phone: "0781234567"}
}

func rejectionCode(t *testing.T, err error) string {
	t.Helper()
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected *Rejection, got %v", err)
	}
	return rej.Code
}

func TestValidateWorkedExample(t *testing.T) {
	quote, err := Validate(validRequest("1000"), dec("1200"), at(10))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !quote.Fee.Equal(dec("100")) {
		t.Fatalf("fee = %s, want 100", quote.Fee)
	}
	if !quote.Total.Equal(dec("1100")) {
		t.Fatalf("total = %s, want 1100", quote.Total)
	}
}

func TestValidateMinimumBoundary(t *testing.T) {
	if _, err := Validate(validRequest("1000"), dec("5000"), at(10)); err != nil {
		t.Fatalf("amount at minimum rejected: %v", err)
	}
	_, err := Validate(validRequest("999"), dec("5000"), at(10))
	if code := rejectionCode(t, err); code != CodeBelowMinimum {
		t.Fatalf("code = %q", code)
	}
	_, err = Validate(validRequest("900"), dec("5000"), at(10))
	if err.Error() != "Minimum withdrawal is 1000 RWF." {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestValidateAffordability(t *testing.T) {
	if _, err := Validate(validRequest("1000"), dec("1100"), at(10)); err != nil {
		t.Fatalf("total equal to balance rejected: %v", err)
	}
	_, err := Validate(validRequest("1000"), dec("1099.99"), at(10))
	if code := rejectionCode(t, err); code != CodeInsufficientBalance {
		t.Fatalf("code = %q", code)
	}
	if err.Error() != "Insufficient balance. You need 1100 RWF (including 10% fee)." {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestPriceIsExact(t *testing.T) {
	cases := map[string]string{
		"1000":    "1100",
		"1234.5":  "1357.95",
		"0.01":    "0.011",
		"3333.33": "3666.663",
	}
	for amount, want := range cases {
		if got := Price(dec(amount)).Total; !got.Equal(dec(want)) {
			t.Fatalf("Price(%s).Total = %s, want %s", amount, got, want)
		}
	}
}

func TestValidateTimeGate(t *testing.T) {
	for _, hour := range []int{7, 18} {
		if _, err := Validate(validRequest("1000"), dec("1200"), at(hour)); err != nil {
			t.Fatalf("hour %d rejected: %v", hour, err)
		}
	}
	for _, hour := range []int{6, 19, 20, 0} {
		_, err := Validate(validRequest("1000"), dec("1000000"), at(hour))
		if code := rejectionCode(t, err); code != CodeOutsideHours {
			t.Fatalf("hour %d: code = %q", hour, code)
		}
	}
}

func TestValidateTimeGateUsesUTC(t *testing.T) {
	kigali := time.FixedZone("CAT", 2*60*60)
	// 20:30 in Kigali is 18:30 UTC.
	now := time.Date(2025, 3, 14, 20, 30, 0, 0, kigali)
	if _, err := Validate(validRequest("1000"), dec("1200"), now); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidatePhone(t *testing.T) {
	bad := []string{"", "0712345678", "0781234", "07812345678", "+250781234567", "078123456a", "0881234567"}
	for _, phone := range bad {
		req := validRequest("1000")
		req.Phone = phone
		_, err := Validate(req, dec("1200"), at(10))
		if code := rejectionCode(t, err); code != CodeInvalidPhone {
			t.Fatalf("phone %q: code = %q", phone, code)
		}
	}
	for _, phone := range []string{"0721234567", "0731234567", "0781234567", "0791234567"} {
		if !ValidPhone(phone) {
			t.Fatalf("phone %q rejected", phone)
		}
	}
}

func TestValidateGateOrder(t *testing.T) {
	req := Request{Amount: "500", Method: "paypal", Phone: "bad"}
	_, err := Validate(req, dec("0"), at(22))
	if code := rejectionCode(t, err); code != CodeOutsideHours {
		t.Fatalf("code = %q", code)
	}
	_, err = Validate(req, dec("0"), at(10))
	if code := rejectionCode(t, err); code != CodeBelowMinimum {
		t.Fatalf("code = %q", code)
	}
	req.Amount = "2000"
	_, err = Validate(req, dec("0"), at(10))
	if code := rejectionCode(t, err); code != CodeInsufficientBalance {
		t.Fatalf("code = %q", code)
	}
	_, err = Validate(req, dec("5000"), at(10))
	if code := rejectionCode(t, err); code != CodeInvalidPhone {
		t.Fatalf("code = %q", code)
	}
	req.Phone = "0781234567"
	_, err = Validate(req, dec("5000"), at(10))
	if code := rejectionCode(t, err); code != CodeInvalidMethod {
		t.Fatalf("code = %q", code)
	}
}

func TestValidateAmountInput(t *testing.T) {
	for _, hour := range []int{20, 3} {
		_, err := Validate(validRequest("lots"), dec("5000"), at(hour))
		if code := rejectionCode(t, err); code != CodeOutsideHours {
			t.Fatalf("hour %d: code = %q", hour, code)
		}
	}
	for _, raw := range []string{"", "lots", "1,000", "1000rwf"} {
		_, err := Validate(validRequest(raw), dec("5000"), at(10))
		if code := rejectionCode(t, err); code != CodeInvalidAmount {
			t.Fatalf("amount %q: code = %q", raw, code)
		}
	}
	if _, err := Validate(validRequest(" 1000 "), dec("5000"), at(10)); err != nil {
		t.Fatalf("padded amount rejected: %v", err)
	}
	if _, err := Validate(validRequest("-5"), dec("5000"), at(10)); rejectionCode(t, err) != CodeBelowMinimum {
		t.Fatalf("negative amount: %v", err)
	}
}

func TestValidateWholeFrancs(t *testing.T) {
	quote, err := Validate(validRequest("1000.00"), dec("5000"), at(10))
	if err != nil {
		t.Fatalf("1000.00 rejected: %v", err)
	}
	if !quote.Total.Equal(dec("1100")) {
		t.Fatalf("total = %s", quote.Total)
	}
	for _, raw := range []string{"1000.005", "1000.5", "1234.56"} {
		_, err := Validate(validRequest(raw), dec("5000"), at(10))
		if code := rejectionCode(t, err); code != CodeInvalidAmount {
			t.Fatalf("amount %q: code = %q", raw, code)
		}
	}
	// Precision is checked after the documented gates.
	_, err = Validate(validRequest("1000.005"), dec("1000"), at(10))
	if code := rejectionCode(t, err); code != CodeInsufficientBalance {
		t.Fatalf("code = %q", code)
	}
	for _, amount := range []string{"1000", "1001", "1234", "98765"} {
		q := Price(dec(amount))
		if q.Fee.Exponent() < -2 || q.Total.Exponent() < -2 {
			t.Fatalf("Price(%s) = %+v exceeds two decimal places", amount, q)
		}
	}
}

func TestParseMethod(t *testing.T) {
	if m, ok := ParseMethod("airtel"); !ok || m != domain.MethodAirtel {
		t.Fatalf("ParseMethod(airtel) = %q, %v", m, ok)
	}
	if _, ok := ParseMethod("MTN"); ok {
		t.Fatal("expected case-sensitive method names")
	}
}
