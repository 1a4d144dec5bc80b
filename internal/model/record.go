// Package model holds the types shared by every stage of the loader:
// raw input rows, validated transactions, dimension names, customer
// identity keys, rejection reasons and the error taxonomy.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Column positions of the canonical input layout.
const (
	ColTransactionID = iota
	ColTimestamp
	ColGender
	ColAge
	ColMaritalStatus
	ColRegion
	ColTier
	ColEmployment
	ColPaymentMethod
	ColReferral
	ColAmount

	NumColumns
)

// Columns lists the canonical column names in input order.
var Columns = [NumColumns]string{
	"transaction_id",
	"timestamp",
	"gender",
	"age",
	"marital_status",
	"region",
	"tier",
	"employment",
	"payment_method",
	"referral",
	"amount",
}

// RawRecord is one input row as untyped fields. It is discarded once the
// validator has turned it into a Transaction or a Rejection.
type RawRecord struct {
	Line      int
	Fields    []string
	Malformed bool
	// Cause is set for malformed rows and explains why the line could not be split.
	Cause error
}

// Field returns the value at column i, or "" when the row is short.
func (r RawRecord) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

// Gender of a customer profile.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// Genders lists every gender value in a stable order.
var Genders = []Gender{GenderFemale, GenderMale, GenderUnknown}

// MaritalStatus of a customer profile.
type MaritalStatus string

const (
	MaritalSingle  MaritalStatus = "single"
	MaritalMarried MaritalStatus = "married"
)

// MaritalStatuses lists every marital status in a stable order.
var MaritalStatuses = []MaritalStatus{MaritalMarried, MaritalSingle}

// ProfileKey is the structural identity of a customer profile.
//
// The source data carries no stable customer identifier, so two different
// people who share gender, age and marital status resolve to the same
// profile. Callers that need per-person identity cannot get it from this
// key.
type ProfileKey struct {
	Gender  Gender
	Age     int
	Marital MaritalStatus
}

// Dimension names one of the categorical lookup tables.
type Dimension string

const (
	DimRegion        Dimension = "region"
	DimTier          Dimension = "tier"
	DimEmployment    Dimension = "employment"
	DimPaymentMethod Dimension = "payment_method"
)

// Dimensions lists every dimension in a stable order.
var Dimensions = []Dimension{DimRegion, DimTier, DimEmployment, DimPaymentMethod}

// Table returns the lookup table that stores the dimension.
func (d Dimension) Table() string { return "dim_" + string(d) }

// FactColumn returns the fact table column that references the dimension.
func (d Dimension) FactColumn() string { return string(d) + "_id" }

// Transaction is a validated, cleaned input row. Categorical fields hold
// canonical names; resolving them to ids happens inside the loader's unit
// of work.
type Transaction struct {
	Line          int
	ID            int64
	OccurredAt    time.Time
	Customer      ProfileKey
	Region        string
	Tier          string
	Employment    string
	PaymentMethod string
	Referral      bool
	Amount        decimal.Decimal
}

// DimensionValue returns the canonical name held for dimension d.
func (t Transaction) DimensionValue(d Dimension) string {
	switch d {
	case DimRegion:
		return t.Region
	case DimTier:
		return t.Tier
	case DimEmployment:
		return t.Employment
	case DimPaymentMethod:
		return t.PaymentMethod
	}
	return ""
}

// AmountScale is the number of fractional digits kept for amounts.
const AmountScale = 2

// MaxAmount is the largest accepted amount. In cents it fits int64 with
// enough headroom that summing millions of maximal facts cannot overflow.
var MaxAmount = decimal.New(1, 12)

// Cents converts a fixed-point amount to integer minor units. Amounts above
// MaxAmount must be rejected before they get here.
func Cents(d decimal.Decimal) int64 {
	return d.Shift(AmountScale).Round(0).IntPart()
}

// FromCents converts integer minor units back to a decimal amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -AmountScale)
}
