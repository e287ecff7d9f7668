package models

// KnownSupplier is a read-mostly entry replicated from the upstream
// supplier catalog. Refresh is an external job; the pipeline only
// queries this table.
type KnownSupplier struct {
	SupplierID            string `json:"supplierId" gorm:"primaryKey;type:varchar(36)"`
	Name                  string `json:"name"`
	NormalizedName        string `json:"normalizedName" gorm:"index"`
	Category              string `json:"category,omitempty"`
	MCC                   string `json:"mcc,omitempty"`
	Industry              string `json:"industry,omitempty"`
	PaymentType           string `json:"paymentType,omitempty"`
	City                  string `json:"city,omitempty"`
	State                 string `json:"state,omitempty"`
	Confidence            float64 `json:"confidence"`
	NameLength            int    `json:"nameLength"`
	HasBusinessIndicator  bool   `json:"hasBusinessIndicator"`
	CommonNameScore       float64 `json:"commonNameScore"`
}

func (KnownSupplier) TableName() string { return "known_suppliers" }

// ExclusionKeyword is an entry in the keyword exclusion admin list.
type ExclusionKeyword struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Keyword   string `json:"keyword" gorm:"uniqueIndex:idx_keyword_casefold"`
	AddedBy   string `json:"addedBy,omitempty"`
	Notes     string `json:"notes,omitempty"`
	IsActive  bool   `json:"isActive" gorm:"index"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (ExclusionKeyword) TableName() string { return "exclusion_keywords" }
