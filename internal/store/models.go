package store

import "time"

// Drug is the identity row of a sellable product; the uniqueness invariant
// lives on (Name, Specification, Manufacturer) after normalization.
type Drug struct {
	ID                 string
	UpstreamID         string
	Name               string
	Specification      string
	Manufacturer       string
	Category           string
	CategoryConfidence float64
	CategorySource     string
	ApprovalNumber     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OutlierFlag mirrors internal/outlier's flag space but is persisted as a
// plain smallint so the store package has no dependency on internal/outlier.
type OutlierFlag int16

const (
	OutlierNormal      OutlierFlag = 0
	OutlierHigh        OutlierFlag = 1
	OutlierLow         OutlierFlag = -1
	OutlierPlaceholder OutlierFlag = 2
)

// PriceRecord is one observed supplier offer at one instant. Rows are
// append-only: AppendPrices never updates or deletes an existing row.
type PriceRecord struct {
	ID            string
	DrugID        string
	PriceScaled   int64
	SupplierName  string
	SupplierID    string
	SourceURL     string
	CrawledAt     time.Time
	IsOutlier     OutlierFlag
	OutlierReason string
}

// DrugAlias is a non-unique alternative name mapped to a drug for search
// expansion.
type DrugAlias struct {
	ID     string
	DrugID string
	Alias  string
}

// WatchListItem drives the batch scheduler's keyword set.
type WatchListItem struct {
	ID            string
	Keyword       string
	CategoryHint  string
	Priority      int16
	AddedAt       time.Time
	LastCrawledAt *time.Time
	Enabled       bool
}

// CrawlTaskStatus is the closed set of CrawlTask lifecycle states.
type CrawlTaskStatus string

const (
	TaskPending   CrawlTaskStatus = "pending"
	TaskRunning   CrawlTaskStatus = "running"
	TaskPaused    CrawlTaskStatus = "paused"
	TaskSucceeded CrawlTaskStatus = "succeeded"
	TaskFailed    CrawlTaskStatus = "failed"
	TaskCancelled CrawlTaskStatus = "cancelled"
)

// CrawlTask tracks one batch run of the scheduler across many keywords.
type CrawlTask struct {
	ID                string
	Name              string
	Keywords          []string
	Status            CrawlTaskStatus
	TotalKeywords     int
	CompletedKeywords int
	FailedKeywords    int
	TotalPriceRows    int
	StartedAt         *time.Time
	CompletedAt       *time.Time
	LastError         string
}

// MonitorRuleKind is the closed set of rule kinds C10/scheduler evaluates.
type MonitorRuleKind string

const (
	RuleKindPriceDrop   MonitorRuleKind = "price_drop"
	RuleKindPriceRise   MonitorRuleKind = "price_rise"
	RuleKindNewSupplier MonitorRuleKind = "new_supplier"
)

// MonitorRule is a standing watch over a drug's price history.
type MonitorRule struct {
	ID           string
	DrugID       string
	Kind         MonitorRuleKind
	ThresholdPct float64
	Enabled      bool
}

// Alert is emitted by evaluation of a MonitorRule; immutable once created.
type Alert struct {
	ID        string
	RuleID    string
	DrugID    string
	Kind      MonitorRuleKind
	Message   string
	CreatedAt time.Time
}

// DrugFields is the mutable subset of Drug that UpsertDrug may write on a
// re-visit, per the update-only-if-stronger-signal rule.
type DrugFields struct {
	UpstreamID         string
	Category           string
	CategoryConfidence float64
	CategorySource     string
	ApprovalNumber     string
}

// Observation is one priced offer ready to be appended for a drug.
type Observation struct {
	PriceScaled  int64
	SupplierName string
	SupplierID   string
	SourceURL    string
	CrawledAt    time.Time
}

// DrugFilter narrows ListDrugs.
type DrugFilter struct {
	Category     string
	NameContains string
	Limit        int
	Offset       int
}

// PriceFilter narrows GetPrices.
type PriceFilter struct {
	IncludeOutliers bool
	Since           *time.Time
	Limit           int
}
