// Package models defines the record store's gorm-tagged entities.
package models

import "time"

// BatchStatus is the Batch lifecycle.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchEnriching  BatchStatus = "enriching"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// StageStatus is a per-stage, per-record (or per-batch counter) status.
// "Terminal" per the glossary means completed|failed|skipped|cancelled.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
	StageCancelled  StageStatus = "cancelled"
)

// IsTerminal reports whether s admits no further writes.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageSkipped, StageCancelled:
		return true
	default:
		return false
	}
}

// StageCounters tracks total/processed/succeeded for one stage on a Batch.
type StageCounters struct {
	Status    StageStatus `json:"status" gorm:"type:varchar(20)"`
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
}

// AddressColumnMap records which input columns supply address parts,
// populated by the (out-of-scope) upload endpoint.
type AddressColumnMap map[string]string

// Batch is a unit of bulk work tied to a single upload.
type Batch struct {
	ID             string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OriginalName   string      `json:"originalName"`
	StoredName     string      `json:"storedName"`
	Status         BatchStatus `json:"status" gorm:"type:varchar(20);index"`
	TotalRecords   int         `json:"totalRecords"`
	ProcessedRecords int       `json:"processedRecords"`
	SkippedRecords int         `json:"skippedRecords"`

	EnabledStages StageSelection `json:"enabledStages" gorm:"embedded;embeddedPrefix:enabled_"`

	Classification StageCounters `json:"classification" gorm:"embedded;embeddedPrefix:classification_"`
	Finexio        StageCounters `json:"finexio" gorm:"embedded;embeddedPrefix:finexio_"`
	Address        StageCounters `json:"address" gorm:"embedded;embeddedPrefix:address_"`
	Merchant       StageCounters `json:"merchant" gorm:"embedded;embeddedPrefix:merchant_"`
	Prediction     StageCounters `json:"prediction" gorm:"embedded;embeddedPrefix:prediction_"`

	AddressColumnMap AddressColumnMap `json:"addressColumnMap" gorm:"serializer:json"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StageSelection is which stages were selected at upload time.
type StageSelection struct {
	Classification bool `json:"classification"`
	SupplierMatch  bool `json:"supplierMatch"`
	AddressValidate bool `json:"addressValidate"`
	MerchantEnrich bool `json:"merchantEnrich"`
	Predict        bool `json:"predict"`
}

// TableName pins the gorm table name rather than relying on the
// pluralizer, keeping struct renames from silently retargeting the table.
func (Batch) TableName() string { return "batches" }
