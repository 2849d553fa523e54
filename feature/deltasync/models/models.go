package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeType classifies a source row against its last synced snapshot.
type ChangeType string

const (
	ChangeNew       ChangeType = "NEW"
	ChangeChanged   ChangeType = "CHANGED"
	ChangeUnchanged ChangeType = "UNCHANGED"
	ChangeDeleted   ChangeType = "DELETED"
)

// BatchStatus is the lifecycle state of a staged batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "PENDING"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchPartial    BatchStatus = "PARTIAL"
	BatchSuccess    BatchStatus = "SUCCESS"
	BatchFailed     BatchStatus = "FAILED"
)

// InFlight reports whether the batch still owns its natural keys.
func (s BatchStatus) InFlight() bool {
	return s == BatchPending || s == BatchProcessing
}

// Terminal reports whether no further automatic transition occurs.
func (s BatchStatus) Terminal() bool {
	return s == BatchPartial || s == BatchSuccess || s == BatchFailed
}

// RowStatus is the lifecycle state of one staging record.
type RowStatus string

const (
	RowPending    RowStatus = "PENDING"
	RowProcessing RowStatus = "PROCESSING"
	RowSuccess    RowStatus = "SUCCESS"
	RowError      RowStatus = "ERROR"
)

// Terminal reports whether the row reached SUCCESS or ERROR.
func (s RowStatus) Terminal() bool {
	return s == RowSuccess || s == RowError
}

// ApprovalStatus tags a resolved customer name.
type ApprovalStatus string

const (
	Approved ApprovalStatus = "APPROVED"
	Review   ApprovalStatus = "REVIEW"
)

// Fingerprint is the hex digest of a row's canonicalized business fields.
type Fingerprint string

// SourceRow is one record read from the system of record.
type SourceRow struct {
	NaturalKey string
	Customer   string
	Fields     map[string]any
}

// ChangeRecord is the detector's verdict for one natural key.
type ChangeRecord struct {
	NaturalKey string
	ChangeType ChangeType
	Current    Fingerprint
	Previous   *Fingerprint
	// Customer is the raw source customer, or the snapshot customer for DELETED records.
	Customer string
	// Row is the observed source row; nil for DELETED records.
	Row *SourceRow
}

// Snapshot is the last successfully synced state of one natural key.
type Snapshot struct {
	NaturalKey   string      `gorm:"column:natural_key;primaryKey;size:191" json:"natural_key"`
	Fingerprint  Fingerprint `gorm:"column:fingerprint;size:64;not null" json:"fingerprint"`
	Customer     string      `gorm:"column:customer;size:255" json:"customer"`
	LastSyncedAt time.Time   `gorm:"column:last_synced_at" json:"last_synced_at"`
}

func (Snapshot) TableName() string { return "sync_snapshots" }

// Batch is a customer-scoped group of staging records.
type Batch struct {
	ID        string          `gorm:"column:id;primaryKey;size:36" json:"id"`
	Customer  string          `gorm:"column:customer;size:255;index" json:"customer"`
	Status    BatchStatus     `gorm:"column:status;size:16;index" json:"status"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
	Rows      []StagingRecord `gorm:"foreignKey:BatchID;references:ID" json:"rows,omitempty"`
}

func (Batch) TableName() string { return "sync_batches" }

// Keys returns the natural keys of the batch rows in position order.
func (b *Batch) Keys() []string {
	keys := make([]string, len(b.Rows))
	for i, r := range b.Rows {
		keys[i] = r.NaturalKey
	}
	return keys
}

// StagingRecord is one row's sync attempt and outcome.
type StagingRecord struct {
	ID             uint              `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BatchID        string            `gorm:"column:batch_id;size:36;index;not null" json:"batch_id"`
	Position       int               `gorm:"column:position" json:"position"`
	NaturalKey     string            `gorm:"column:natural_key;size:191;index" json:"natural_key"`
	Customer       string            `gorm:"column:customer;size:255" json:"customer"`
	CustomerStatus ApprovalStatus    `gorm:"column:customer_status;size:16" json:"customer_status"`
	Fingerprint    Fingerprint       `gorm:"column:fingerprint;size:64" json:"fingerprint"`
	Fields         datatypes.JSONMap `gorm:"column:fields" json:"fields"`
	MappedFields   datatypes.JSONMap `gorm:"column:mapped_fields" json:"mapped_fields,omitempty"`
	Status         RowStatus         `gorm:"column:status;size:16;index" json:"status"`
	ExternalID     *string           `gorm:"column:external_id;size:64" json:"external_id,omitempty"`
	TargetID       *string           `gorm:"column:target_id;size:64" json:"target_id,omitempty"`
	RetryCount     int               `gorm:"column:retry_count" json:"retry_count"`
	LastError      *string           `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (StagingRecord) TableName() string { return "sync_staging_records" }
