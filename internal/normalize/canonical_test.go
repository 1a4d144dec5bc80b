package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only spaces", "   \t ", ""},
		{"trim and fold", "  North  ", "north"},
		{"collapse inner whitespace", "New \t  York", "new york"},
		{"upper case", "PLATINUM", "platinum"},
		{"accents removed", "São Paulo", "sao paulo"},
		{"accented upper", "ÉLITE", "elite"},
		{"already canonical", "credit card", "credit card"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.in))
		})
	}
}

func TestCanonicalVariantsShareKey(t *testing.T) {
	t.Parallel()

	variants := []string{"Credit Card", "credit card", " CREDIT  CARD", "Credit\tCard "}
	for _, v := range variants {
		assert.Equal(t, "credit card", Canonical(v), "variant %q", v)
	}
}

func TestHeaderName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Transaction ID":  "transaction_id",
		" Marital-Status": "marital_status",
		"Payment.Method":  "payment_method",
		"Amount ($)":      "amount",
		"Věk":             "vek",
		"__x__":           "x",
	}
	for in, want := range tests {
		assert.Equal(t, want, HeaderName(in), "header %q", in)
	}
}

func TestIsMissing(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", " ", "Missing", "NaN", "nan", "NULL", "N/A", "-"} {
		assert.True(t, IsMissing(s), "%q should be missing", s)
	}
	for _, s := range []string{"0", "12.5", "female", "none of these"} {
		assert.False(t, IsMissing(s), "%q should not be missing", s)
	}
}
