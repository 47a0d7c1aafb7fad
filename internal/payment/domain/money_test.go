package domain_test

import (
	"testing"

	"github.com/shopstack/payflow/internal/payment/domain"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"49.00", 4900, false},
		{"49", 4900, false},
		{"0.01", 1, false},
		{"0.1", 10, false},
		{"100.5", 10050, false},
		{"-5", -500, false},
		{"0", 0, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1.234", 0, true},
		{"+10", 0, true},
		{"10.", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := domain.MinorUnits(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("MinorUnits(%q) = %d, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("MinorUnits(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("MinorUnits(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestFormatMinor(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{4900, "49.00"},
		{1, "0.01"},
		{10, "0.10"},
		{10050, "100.50"},
		{0, "0.00"},
	}
	for _, tc := range cases {
		if got := domain.FormatMinor(tc.in); got != tc.want {
			t.Fatalf("FormatMinor(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateAmount(t *testing.T) {
	if err := domain.ValidateAmount(4900); err != nil {
		t.Fatalf("valid amount rejected: %v", err)
	}
	if err := domain.ValidateAmount(0); err == nil {
		t.Fatal("zero amount accepted")
	}
	if err := domain.ValidateAmount(-100); err == nil {
		t.Fatal("negative amount accepted")
	}
}
