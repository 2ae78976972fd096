// Package storage holds the engine's persistence: a GORM/MySQL audit
// trail of executed opportunities (adapted from the teacher's
// internal/db/transaction_recorder.go), plus the in-memory, RWMutex-
// guarded caches the concurrency model (spec.md §5) requires for token
// metadata and known sandwich-bot addresses.
package storage

import (
	"fmt"
	"math/big"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ExecutionRecord is the audit-trail row for one submitted opportunity,
// generalising the teacher's AssetSnapshotRecord (which recorded a single
// strategy's asset balances) into a record of an arbitrage execution
// outcome: what was found, what was submitted, what it netted.
type ExecutionRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`

	ChainID     uint64 `gorm:"not null"`
	ProfitToken string `gorm:"type:varchar(42);not null"`
	PoolPath    string `gorm:"type:varchar(512);not null;comment:colon-joined pool ids"`

	ExpectedProfit string `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	RealizedProfit string `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	GasCost        string `gorm:"type:varchar(78);not null;comment:big.Int as string"`

	Submitted bool   `gorm:"not null"`
	Success   bool   `gorm:"not null"`
	ErrorKind string `gorm:"type:varchar(32)"`

	TxHash string `gorm:"type:varchar(66)"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ExecutionRecord) TableName() string {
	return "execution_records"
}

// MySQLRecorder persists ExecutionRecords and answers the audit queries
// the operator dashboard / reconciliation jobs need.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens dsn and migrates the schema.
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect mysql: %w", err)
	}
	return NewMySQLRecorderWithDB(db)
}

// NewMySQLRecorderWithDB wraps an already-open *gorm.DB (used by tests
// with sqlmock).
func NewMySQLRecorderWithDB(db *gorm.DB) (*MySQLRecorder, error) {
	if err := db.AutoMigrate(&ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("storage: migrate schema: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

// Record inserts one execution outcome.
func (r *MySQLRecorder) Record(rec ExecutionRecord) error {
	if result := r.db.Create(&rec); result.Error != nil {
		return fmt.Errorf("storage: record execution: %w", result.Error)
	}
	return nil
}

// Latest returns the most recently recorded execution.
func (r *MySQLRecorder) Latest() (*ExecutionRecord, error) {
	var rec ExecutionRecord
	if result := r.db.Order("timestamp DESC").First(&rec); result.Error != nil {
		return nil, fmt.Errorf("storage: latest execution: %w", result.Error)
	}
	return &rec, nil
}

// InRange returns executions within [start, end].
func (r *MySQLRecorder) InRange(start, end time.Time) ([]ExecutionRecord, error) {
	var recs []ExecutionRecord
	result := r.db.Where("timestamp BETWEEN ? AND ?", start, end).
		Order("timestamp ASC").
		Find(&recs)
	if result.Error != nil {
		return nil, fmt.Errorf("storage: executions in range: %w", result.Error)
	}
	return recs, nil
}

// CountSuccessful returns how many recorded executions succeeded.
func (r *MySQLRecorder) CountSuccessful() (int64, error) {
	var count int64
	result := r.db.Model(&ExecutionRecord{}).Where("success = ?", true).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("storage: count successful: %w", result.Error)
	}
	return count, nil
}

// Close releases the underlying connection pool.
func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("storage: underlying db: %w", err)
	}
	return sqlDB.Close()
}

// BigIntToString safely converts a possibly-nil *big.Int for storage.
func BigIntToString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
