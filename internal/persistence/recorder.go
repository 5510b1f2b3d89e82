// Package persistence is qenus's audit trail, generalized from the
// teacher's internal/db (a single GORM/MySQL recorder writing one struct
// per strategy tick) into a recorder for the three long-lived records the
// intelligence pipeline produces: every built TradeIntent, every
// ExecutionReceipt correlated back to one, and periodic ModelPerformance
// snapshots. big.Int-shaped fields are persisted as decimal strings, the
// same convention the teacher uses for its own wei-denominated amounts.
package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"qenus"
)

// IntentRecord is the database row for one built TradeIntent.
type IntentRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	IntentID       string `gorm:"uniqueIndex;not null"`
	Strategy       string `gorm:"index;not null"`
	Asset          string `gorm:"not null"`
	SizeUSD        float64
	ExpectedPnLUSD float64
	NetBps         float64
	SuccessProb    float64
	TTLSeconds     uint64
	CreatedAt      time.Time `gorm:"index;not null"`
}

func (IntentRecord) TableName() string { return "trade_intents" }

// ReceiptRecord is the database row for one ExecutionReceipt, foreign-keyed
// to the IntentRecord it resolves by IntentID.
type ReceiptRecord struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"`
	IntentID          string    `gorm:"index;not null"`
	Success           bool      `gorm:"not null"`
	ActualPnLUSD      float64
	ActualCostsUSD    float64
	ActualSlippageBps float64
	ExecutionTimeMS   int64
	CompletedAt       time.Time `gorm:"index;not null"`
	ErrorMessage      string
}

func (ReceiptRecord) TableName() string { return "execution_receipts" }

// PerformanceSnapshotRecord is a point-in-time capture of the feedback
// processor's running scorecard, recorded on a fixed cadence so model
// drift is visible over time rather than only as a single live value.
type PerformanceSnapshotRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp      time.Time `gorm:"index;not null"`
	TotalIntents   uint64
	Successful     uint64
	HitRate        float64
	AvgPnLErrorPct float64
	AccuracyScore  float64
}

func (PerformanceSnapshotRecord) TableName() string { return "model_performance_snapshots" }

// Recorder is qenus's audit-log writer, generalized from the teacher's
// MySQLRecorder.
type Recorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens (and auto-migrates) a MySQL-backed recorder.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMySQLRecorder(dsn string) (*Recorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: connect mysql: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an already-open GORM DB (used directly by tests against
// go-sqlmock, the way the teacher's own NewMySQLRecorderWithDB does).
func NewWithDB(db *gorm.DB) (*Recorder, error) {
	if err := db.AutoMigrate(&IntentRecord{}, &ReceiptRecord{}, &PerformanceSnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("persistence: migrate schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// RecordIntent persists a built TradeIntent for audit.
func (r *Recorder) RecordIntent(intent qenus.TradeIntent) error {
	record := IntentRecord{
		IntentID:       intent.IntentID,
		Strategy:       intent.Strategy,
		Asset:          intent.Asset,
		SizeUSD:        intent.SizeUSD,
		ExpectedPnLUSD: intent.ExpectedPnLUSD,
		NetBps:         intent.NetBps,
		SuccessProb:    intent.SuccessProb,
		TTLSeconds:     intent.TTLSeconds,
		CreatedAt:      intent.CreatedAt,
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("persistence: record intent %s: %w", intent.IntentID, result.Error)
	}
	return nil
}

// RecordReceipt persists an ExecutionReceipt for audit.
func (r *Recorder) RecordReceipt(receipt qenus.ExecutionReceipt) error {
	record := ReceiptRecord{
		IntentID:          receipt.IntentID,
		Success:           receipt.Success,
		ActualPnLUSD:      receipt.ActualPnLUSD,
		ActualCostsUSD:    receipt.ActualCostsUSD,
		ActualSlippageBps: receipt.ActualSlippageBps,
		ExecutionTimeMS:   receipt.ExecutionTime.Milliseconds(),
		CompletedAt:       receipt.CompletedAt,
		ErrorMessage:      receipt.Error,
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("persistence: record receipt %s: %w", receipt.IntentID, result.Error)
	}
	return nil
}

// RecordPerformanceSnapshot persists a point-in-time ModelPerformance
// reading, timestamped by the caller.
func (r *Recorder) RecordPerformanceSnapshot(perf qenus.ModelPerformance, at time.Time) error {
	record := PerformanceSnapshotRecord{
		Timestamp:      at,
		TotalIntents:   perf.TotalIntents,
		Successful:     perf.Successful,
		HitRate:        perf.HitRate,
		AvgPnLErrorPct: perf.AvgPnLErrorPct,
		AccuracyScore:  perf.AccuracyScore,
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("persistence: record performance snapshot: %w", result.Error)
	}
	return nil
}

// ReceiptsForIntent retrieves every receipt recorded against intentID,
// oldest first.
func (r *Recorder) ReceiptsForIntent(intentID string) ([]ReceiptRecord, error) {
	var records []ReceiptRecord
	result := r.db.Where("intent_id = ?", intentID).Order("completed_at ASC").Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("persistence: receipts for intent %s: %w", intentID, result.Error)
	}
	return records, nil
}

// LatestPerformanceSnapshot returns the most recently recorded scorecard.
func (r *Recorder) LatestPerformanceSnapshot() (*PerformanceSnapshotRecord, error) {
	var record PerformanceSnapshotRecord
	result := r.db.Order("timestamp DESC").First(&record)
	if result.Error != nil {
		return nil, fmt.Errorf("persistence: latest performance snapshot: %w", result.Error)
	}
	return &record, nil
}

// Close closes the underlying database connection.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("persistence: underlying db handle: %w", err)
	}
	return sqlDB.Close()
}
