package loan

import (
	"fmt"
	"loan-ledger/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

const (
	monthsPerYear = 12
	moneyPlaces   = 2
)

// Compute derives flat-rate simple interest, total payable and EMI from loan
// terms.
//
// Rounding policy: interest and EMI are rounded to 2 decimal places, halves
// away from zero. Total payable is principal plus the rounded interest. The
// principal must already be a whole number of cents.
func Compute(principal decimal.Decimal, years int, rate decimal.Decimal) (interest, total, emi decimal.Decimal, err error) {
	if !principal.IsPositive() {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w: principal must be greater than zero", apperrors.ErrInvalidLoanTerms)
	}
	if !IsMoney(principal) {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w: principal must have at most %d decimal places", apperrors.ErrInvalidLoanTerms, moneyPlaces)
	}
	if years <= 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w: loan period must be a positive number of years", apperrors.ErrInvalidLoanTerms)
	}
	if rate.IsNegative() {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w: rate of interest cannot be negative", apperrors.ErrInvalidLoanTerms)
	}

	interest = principal.Mul(decimal.NewFromInt(int64(years))).Mul(rate).Shift(-2).Round(moneyPlaces)
	total = principal.Add(interest)
	emi = total.DivRound(decimal.NewFromInt(int64(years)*monthsPerYear), moneyPlaces)
	if !emi.IsPositive() {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("%w: monthly installment rounds to zero for %s over %d years", apperrors.ErrInvalidLoanTerms, total.StringFixed(moneyPlaces), years)
	}

	return interest, total, emi, nil
}

// Balance is what remains payable; it never goes below zero.
func Balance(total, paid decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, total.Sub(paid))
}

// EMIsLeft is ceil(balance / emi): a partly covered installment still counts
// as one left to pay.
func EMIsLeft(balance, emi decimal.Decimal) int64 {
	if !balance.IsPositive() || !emi.IsPositive() {
		return 0
	}
	q, r := balance.QuoRem(emi, 0)
	left := q.IntPart()
	if r.IsPositive() {
		left++
	}
	return left
}

// IsMoney reports whether d is a whole number of cents.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyPlaces))
}
