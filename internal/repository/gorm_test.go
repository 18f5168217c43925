package repository

import (
	"context"
	"strings"
	"sync"
	"testing"

	"flagplane/internal/model"
	"flagplane/pkg/constraints"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// The flags key column carries a MySQL collation, so the table is laid out
// by hand; the other tables migrate as-is.
var sqliteFlagsDDL = []string{
	"CREATE TABLE `flags` (" +
		"`id` INTEGER PRIMARY KEY AUTOINCREMENT," +
		"`namespace` TEXT NOT NULL," +
		"`env` TEXT NOT NULL," +
		"`key` TEXT NOT NULL," +
		"`type` TEXT NOT NULL," +
		"`value` TEXT," +
		"`version` INTEGER NOT NULL," +
		"`created_at` DATETIME," +
		"`updated_at` DATETIME," +
		"`updated_by` TEXT)",
	"CREATE UNIQUE INDEX `idx_flag_scope` ON `flags` (`namespace`, `env`, `key`)",
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range sqliteFlagsDDL {
		require.NoError(t, db.Exec(stmt).Error)
	}
	require.NoError(t, db.AutoMigrate(&model.AuditEntry{}, &model.OutboxTask{}, &model.SDKClient{}))
	return db
}

func TestGormStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) contractStore { return NewGormStore(openSQLite(t)) }})
}

func TestGormStore_Ping(t *testing.T) {
	require.NoError(t, NewGormStore(openSQLite(t)).Ping(context.Background()))
}

func longestFlagPath() string {
	prefix := "/" + strings.Repeat("p", constraints.MaxEtcdPrefixLen-2) + "/"
	return NewPublisher(nil, prefix).FlagKey(
		strings.Repeat("e", constraints.MaxEnvLen),
		strings.Repeat("n", constraints.MaxNamespaceLen),
		strings.Repeat("k", constraints.MaxKeyLen),
	)
}

func TestOutboxKeyColumnFitsLongestPath(t *testing.T) {
	sch, err := schema.Parse(&model.OutboxTask{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	field := sch.LookUpField("key")
	require.NotNil(t, field)

	path := longestFlagPath()
	require.Len(t, path, constraints.MaxEtcdPrefixLen+constraints.MaxEnvLen+constraints.MaxNamespaceLen+constraints.MaxKeyLen+len("//features/"))
	require.LessOrEqual(t, len(path), field.Size)
}

func TestGormStore_OutboxKeepsLongestPath(t *testing.T) {
	store := NewGormStore(openSQLite(t))
	ctx := context.Background()
	path := longestFlagPath()

	require.NoError(t, store.Atomic(ctx, func(tx Tx) error {
		return tx.EnqueueOutbox(ctx, &model.OutboxTask{Key: path, Payload: "{}", Status: model.StatusPending})
	}))

	tasks, err := store.FetchPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, path, tasks[0].Key)
}
