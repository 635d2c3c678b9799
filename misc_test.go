package connpager

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func newGORMMySQLMock() (string, *gorm.DB, sqlmock.Sqlmock, error) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		return "", nil, nil, err
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      mockDB,
		SkipInitializeWithVersion: true,
	})

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return "", nil, nil, err
	}

	return "mysql", db.Debug(), mock, nil
}

func newGORMPostgresMock() (string, *gorm.DB, sqlmock.Sqlmock, error) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		return "", nil, nil, err
	}

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return "", nil, nil, err
	}

	return "postgres", db.Debug(), mock, nil
}

// newGORMSQLite opens a private in-memory database with the test tables.
// LIKE is made case-sensitive to match the other dialects.
func newGORMSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec("PRAGMA case_sensitive_like = ON").Error)
	require.NoError(t, db.AutoMigrate(&tRole{}))

	return db
}

func intPtr(v int) *int {
	return &v
}

const tRoles = Table("roles")

type tRole struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"index"`
	Name           string
	Status         string
	Rank           int
}

func (tRole) TableName() string {
	return string(tRoles)
}

var (
	tRoleGetters = Getters[tRole]{
		"roles.id":   func(r tRole) any { return r.ID },
		"roles.name": func(r tRole) any { return r.Name },
		"roles.rank": func(r tRole) any { return r.Rank },
	}

	tRoleSort = SortConfig{
		PrimaryKey: tRoles.Col("id"),
		Aliases: map[string][]clause.Column{
			"id":   {tRoles.Col("id")},
			"name": {tRoles.Col("name")},
			"rank": {tRoles.Col("rank")},
		},
	}

	tRoleFields = MustFieldRegistry(map[string]Alias{
		"id":             Columns(tRoles.Col("id")),
		"name":           Columns(tRoles.Col("name")),
		"status":         Columns(tRoles.Col("status")),
		"rank":           Columns(tRoles.Col("rank")),
		"organizationId": Columns(tRoles.Col("organization_id")),
	})
)

// seedRoles inserts the roles and returns them in insertion order.
func seedRoles(t *testing.T, db *gorm.DB, roles ...tRole) []tRole {
	t.Helper()

	if len(roles) > 0 {
		require.NoError(t, db.Create(&roles).Error)
	}

	return roles
}
