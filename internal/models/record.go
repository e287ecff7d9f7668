package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayeeType is the classifier's output enum.
type PayeeType string

const (
	PayeeIndividual       PayeeType = "Individual"
	PayeeBusiness         PayeeType = "Business"
	PayeeGovernment       PayeeType = "Government"
	PayeeInsurance        PayeeType = "Insurance"
	PayeeBanking          PayeeType = "Banking"
	PayeeInternalTransfer PayeeType = "Internal Transfer"
	PayeeUnknown          PayeeType = "Unknown"
)

// ValidPayeeType reports whether t is one of the enumerated payee types.
func ValidPayeeType(t PayeeType) bool {
	switch t {
	case PayeeIndividual, PayeeBusiness, PayeeGovernment, PayeeInsurance,
		PayeeBanking, PayeeInternalTransfer, PayeeUnknown:
		return true
	default:
		return false
	}
}

// MerchantMatchStatus is the outcome of merchant enrichment for a record.
type MerchantMatchStatus string

const (
	MerchantMatchPending MerchantMatchStatus = "pending"
	MerchantMatchMatched MerchantMatchStatus = "matched"
	MerchantMatchNoMatch MerchantMatchStatus = "no_match"
	MerchantMatchFailed  MerchantMatchStatus = "failed"
)

// ValidationStatus is the address validator's outcome.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationPartial ValidationStatus = "partial"
	ValidationInvalid ValidationStatus = "invalid"
)

// OriginalPayload is the opaque source row, kept untyped since the
// upload's column shape varies per caller.
type OriginalPayload map[string]interface{}

// Record is one payee within a batch.
type Record struct {
	ID      string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	BatchID string `json:"batchId" gorm:"type:varchar(36);index"`

	OriginalName    string          `json:"originalName"`
	CleanedName     string          `json:"cleanedName" gorm:"index"`
	OriginalPayload OriginalPayload `json:"originalPayload" gorm:"serializer:json"`

	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`

	// Classification
	ClassificationStatus StageStatus     `json:"classificationStatus" gorm:"type:varchar(20);index"`
	PayeeType            PayeeType       `json:"payeeType,omitempty"`
	Confidence           decimal.Decimal `json:"confidence" gorm:"type:numeric(4,3)"`
	SICCode              string          `json:"sicCode,omitempty"`
	SICDescription       string          `json:"sicDescription,omitempty"`
	Reasoning            string          `json:"reasoning,omitempty"`
	ReviewStatus         string          `json:"reviewStatus,omitempty"`
	ClassificationError  string          `json:"classificationError,omitempty"`

	// Exclusion
	IsExcluded       bool   `json:"isExcluded"`
	ExclusionKeyword string `json:"exclusionKeyword,omitempty"`

	// Supplier match
	SupplierMatchStatus StageStatus     `json:"supplierMatchStatus" gorm:"type:varchar(20)"`
	SupplierID          string          `json:"supplierId,omitempty"`
	SupplierName        string          `json:"supplierName,omitempty"`
	MatchConfidence     decimal.Decimal `json:"matchConfidence" gorm:"type:numeric(4,3)"`
	MatchReasoning      string          `json:"matchReasoning,omitempty"`
	SupplierMatchError  string          `json:"supplierMatchError,omitempty"`

	// Validated address
	AddressStatus     StageStatus     `json:"addressStatus" gorm:"type:varchar(20)"`
	FormattedAddress  string          `json:"formattedAddress,omitempty"`
	AddressComponents AddressComponents `json:"addressComponents" gorm:"serializer:json"`
	Latitude          *float64        `json:"lat,omitempty"`
	Longitude         *float64        `json:"lon,omitempty"`
	AddressConfidence decimal.Decimal `json:"addressConfidence" gorm:"type:numeric(4,3)"`
	ValidationStatus  ValidationStatus `json:"validationStatus,omitempty"`
	AddressError      string          `json:"addressError,omitempty"`

	// Merchant enrichment
	MerchantStatus      StageStatus          `json:"merchantStatus" gorm:"type:varchar(20);index"`
	MerchantMatchStatus MerchantMatchStatus  `json:"merchantMatchStatus,omitempty"`
	MerchantConfidence  decimal.Decimal      `json:"merchantConfidence" gorm:"type:numeric(4,3)"`
	BusinessName        string               `json:"businessName,omitempty"`
	TaxID                string              `json:"taxId,omitempty"`
	MerchantIDs          []string            `json:"merchantIds,omitempty" gorm:"serializer:json"`
	MCC                  string              `json:"mcc,omitempty"`
	MCCGroup             string              `json:"mccGroup,omitempty"`
	EnrichedAddress       string             `json:"enrichedAddress,omitempty"`
	TransactionRecency    string             `json:"transactionRecency,omitempty"`
	CommercialHistory     string             `json:"commercialHistory,omitempty"`
	SmallBusiness         *bool              `json:"smallBusiness,omitempty"`
	LastTransactionDate   *time.Time         `json:"lastTransactionDate,omitempty"`
	DataQualityLevel      string             `json:"dataQualityLevel,omitempty"`
	EnrichmentDate        *time.Time         `json:"enrichmentDate,omitempty"`
	EnrichmentError       string             `json:"enrichmentError,omitempty"`

	// Prediction
	PredictionStatus         StageStatus     `json:"predictionStatus" gorm:"type:varchar(20)"`
	PredictedPaymentSuccess  *bool           `json:"predictedPaymentSuccess,omitempty"`
	PredictionConfidence     decimal.Decimal `json:"predictionConfidence" gorm:"type:numeric(4,3)"`
	RiskFactors              []string        `json:"riskFactors,omitempty" gorm:"serializer:json"`
	RecommendedPaymentMethod string          `json:"recommendedPaymentMethod,omitempty"`
	FraudRiskScore           decimal.Decimal `json:"fraudRiskScore" gorm:"type:numeric(4,3)"`
	PredictionDate           *time.Time      `json:"predictionDate,omitempty"`
	PredictionError          string          `json:"predictionError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AddressComponents is the address validator's parsed breakdown.
type AddressComponents struct {
	StreetNumber string `json:"streetNumber,omitempty"`
	Route        string `json:"route,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postalCode,omitempty"`
	Country      string `json:"country,omitempty"`
}

func (Record) TableName() string { return "records" }

// HasAddress reports whether the raw input carries any address field, the
// test the address-validate worker uses to decide skip-vs-dispatch.
func (r *Record) HasAddress() bool {
	return r.Address != "" || r.City != "" || r.State != "" || r.PostalCode != ""
}
