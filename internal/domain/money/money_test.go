package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFromDecimalDollars(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Cents
	}{
		{"whole dollars", "42", 4200},
		{"two decimal places", "19.99", 1999},
		{"floors extra precision", "10.999", 1099},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.in)
			if err != nil {
				t.Fatalf("decimal.NewFromString(%q) error = %v", tt.in, err)
			}
			if got := FromDecimalDollars(d); got != tt.want {
				t.Errorf("FromDecimalDollars(%s) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestTotalCents(t *testing.T) {
	tests := []struct {
		name       string
		volumeKg   string
		pricePerKg string
		want       Cents
	}{
		{"simple multiplication", "100", "2.50", 25000},
		{"rounds the fractional cent up", "3", "1.005", 302},
		{"fractional kg", "0.5", "4.00", 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vol, err := decimal.NewFromString(tt.volumeKg)
			if err != nil {
				t.Fatalf("parse volume: %v", err)
			}
			price, err := decimal.NewFromString(tt.pricePerKg)
			if err != nil {
				t.Fatalf("parse price: %v", err)
			}
			if got := TotalCents(vol, price); got != tt.want {
				t.Errorf("TotalCents(%s, %s) = %d, want %d", tt.volumeKg, tt.pricePerKg, got, tt.want)
			}
		})
	}
}

func TestFrac(t *testing.T) {
	tests := []struct {
		name        string
		total       Cents
		numerator   int64
		denominator int64
		want        Cents
	}{
		{"20 percent of 10000", 10000, 20, 100, 2000},
		{"60 percent of 10000", 10000, 60, 100, 6000},
		{"floors an uneven split", 10001, 20, 100, 2000},
		{"zero total", 0, 20, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Frac(tt.total, tt.numerator, tt.denominator); got != tt.want {
				t.Errorf("Frac(%d, %d, %d) = %d, want %d", tt.total, tt.numerator, tt.denominator, got, tt.want)
			}
		})
	}
}

func TestTranchesNeverExceedTotal(t *testing.T) {
	// The three tranche fractions (20/60/20) sum to 100%, so floor division
	// must never let the sum of all three shares exceed the total, even on
	// totals that don't divide evenly by 5.
	totals := []Cents{1, 7, 99, 101, 9999997}
	for _, total := range totals {
		pickup := Frac(total, 20, 100)
		deliveryFarmer := Frac(total, 60, 100)
		deliveryMiddleman := Frac(total, 20, 100)
		sum := pickup + deliveryFarmer + deliveryMiddleman
		if sum > total {
			t.Errorf("total=%d: pickup(%d)+deliveryFarmer(%d)+deliveryMiddleman(%d) = %d, exceeds total", total, pickup, deliveryFarmer, deliveryMiddleman, sum)
		}
	}
}
