package storage

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func zeroAddr() common.Address {
	return common.HexToAddress("0x0")
}

func newMockRecorder(t *testing.T) (*MySQLRecorder, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery("SELECT VERSION()").WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("8.0.34"))
	mock.MatchExpectationsInOrder(false)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: false,
	}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))

	recorder, err := NewMySQLRecorderWithDB(gormDB)
	require.NoError(t, err)
	return recorder, mock
}

func TestRecordExecution(t *testing.T) {
	recorder, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `execution_records`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := recorder.Record(ExecutionRecord{
		Timestamp:      time.Now(),
		ChainID:        1,
		ProfitToken:    "0x0000000000000000000000000000000000000a",
		PoolPath:       "pool1:pool2",
		ExpectedProfit: "1000",
		RealizedProfit: "950",
		GasCost:        "50",
		Submitted:      true,
		Success:        true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBigIntToStringNil(t *testing.T) {
	assert.Equal(t, "0", BigIntToString(nil))
}

func TestTokenMetadataCacheGetMiss(t *testing.T) {
	cache := NewTokenMetadataCache()
	now := time.Now()

	_, ok := cache.Get(1, zeroAddr(), now)
	assert.False(t, ok)
}

func TestSandwichBotSetLearnKnown(t *testing.T) {
	set := NewSandwichBotSet()
	addr := zeroAddr()

	assert.False(t, set.Known(addr))
	set.Learn(addr, time.Now())
	assert.True(t, set.Known(addr))
	assert.Equal(t, 1, set.Len())

	set.Learn(addr, time.Now().Add(time.Hour))
	assert.Equal(t, 1, set.Len(), "learning an already-known address must not duplicate")
}
