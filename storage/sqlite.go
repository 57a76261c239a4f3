package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/minus-twelve/roster/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SchemaVersion is bumped whenever recordRow or sessionRow change shape.
const SchemaVersion = 2

type recordRow struct {
	ID                int64   `gorm:"primaryKey;autoIncrement:false"`
	Kind              string  `gorm:"size:16;index;not null"`
	Name              string  `gorm:"size:255;index;not null"`
	Email             string  `gorm:"size:255"`
	EmailKey          *string `gorm:"size:255;uniqueIndex"`
	Phone             string  `gorm:"size:64"`
	Status            string  `gorm:"size:32;index"`
	Joined            string  `gorm:"size:10"`
	Currency          string  `gorm:"size:3"`
	Position          string  `gorm:"size:128"`
	Department        string  `gorm:"size:128;index"`
	Salary            float64
	Rate              float64
	Margin            float64
	WorkAuthorization string `gorm:"size:64"`
	EndClient         string `gorm:"size:255"`
	AccountManager    string `gorm:"size:255"`
	Recruiter         string `gorm:"size:255"`
	Completed         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (recordRow) TableName() string { return "records" }

// sessionRow keeps the user as a JSON document. A NULL user column means
// the session has no user, whatever fields the user carries.
type sessionRow struct {
	ID        int `gorm:"primaryKey;autoIncrement:false"`
	Token     string
	ExpiresAt *time.Time
	UserJSON  *string `gorm:"column:user_json;type:text"`
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "session_state" }

type schemaMeta struct {
	Name    string `gorm:"primaryKey;size:32"`
	Version int    `gorm:"not null"`
}

func (schemaMeta) TableName() string { return "schema_meta" }

type sqliteDB struct {
	cfg types.SQLiteConfig

	once sync.Once
	db   *gorm.DB
	err  error
}

func (s *sqliteDB) open(ctx context.Context) (*gorm.DB, error) {
	s.once.Do(func() {
		s.db, s.err = openSQLite(ctx, s.cfg)
		if s.err != nil {
			s.err = fmt.Errorf("%w: sqlite: %v", types.ErrStorageUnavailable, s.err)
		}
	})
	return s.db, s.err
}

func (s *sqliteDB) close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func openSQLite(ctx context.Context, cfg types.SQLiteConfig) (*gorm.DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	gormLogger := logger.Default
	if !cfg.LogMode {
		gormLogger = gormLogger.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	_, _ = sqlDB.ExecContext(ctx, "PRAGMA journal_mode = WAL;")
	_, _ = sqlDB.ExecContext(ctx, "PRAGMA synchronous = NORMAL;")

	if err := migrate(db.WithContext(ctx)); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&schemaMeta{}, &recordRow{}, &sessionRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	meta := schemaMeta{Name: "roster", Version: SchemaVersion}
	if err := db.FirstOrCreate(&meta, schemaMeta{Name: "roster"}).Error; err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	if meta.Version > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", meta.Version, SchemaVersion)
	}
	if meta.Version < SchemaVersion {
		// Version 1 kept the user in flat columns; those sessions are dropped
		// and the user logs in again.
		if meta.Version < 2 {
			if err := db.Where("1 = 1").Delete(&sessionRow{}).Error; err != nil {
				return fmt.Errorf("reset sessions: %w", err)
			}
		}
		return db.Model(&meta).Update("version", SchemaVersion).Error
	}
	return nil
}

type SQLiteStore struct {
	sqliteDB
}

func NewSQLiteStore(cfg types.SQLiteConfig) *SQLiteStore {
	return &SQLiteStore{sqliteDB: sqliteDB{cfg: cfg}}
}

func (s *SQLiteStore) Initialize(ctx context.Context) error {
	_, err := s.open(ctx)
	return err
}

func (s *SQLiteStore) Add(ctx context.Context, rec types.Record) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	row := toRow(rec)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&recordRow{}).Where("id = ?", row.ID)
		if row.EmailKey != nil {
			q = q.Or("email_key = ?", *row.EmailKey)
		}
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return types.ErrDuplicateKey
		}
		return tx.Create(&row).Error
	})
}

func (s *SQLiteStore) Update(ctx context.Context, rec types.Record) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	row := toRow(rec)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing recordRow
		if err := tx.First(&existing, "id = ?", row.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrNotFound
			}
			return err
		}
		if row.EmailKey != nil {
			var n int64
			err := tx.Model(&recordRow{}).
				Where("email_key = ? AND id <> ?", *row.EmailKey, row.ID).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n > 0 {
				return types.ErrDuplicateKey
			}
		}
		row.CreatedAt = existing.CreatedAt
		return tx.Save(&row).Error
	})
}

func (s *SQLiteStore) Remove(ctx context.Context, id int64) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Delete(&recordRow{}, "id = ?", id).Error
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (types.Record, error) {
	db, err := s.open(ctx)
	if err != nil {
		return types.Record{}, err
	}
	var row recordRow
	if err := db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Record{}, types.ErrNotFound
		}
		return types.Record{}, err
	}
	return fromRow(row), nil
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]types.Record, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	var rows []recordRow
	if err := db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.close()
}

func toRow(rec types.Record) recordRow {
	row := recordRow{
		ID:       rec.ID,
		Kind:     string(rec.Kind),
		Name:     rec.Name,
		Email:    rec.Email,
		Phone:    rec.Phone,
		Status:   string(rec.Status),
		Joined:   rec.Joined,
		Currency: string(rec.Currency),
	}
	if key := rec.EmailKey(); key != "" {
		row.EmailKey = &key
	}
	if e := rec.Employee; e != nil {
		row.Position = e.Position
		row.Department = e.Department
		row.Salary = e.Salary
	}
	if p := rec.Project; p != nil {
		row.Rate = p.Rate
		row.Margin = p.Margin
		row.WorkAuthorization = p.WorkAuthorization
		row.EndClient = p.EndClient
		row.AccountManager = p.AccountManager
		row.Recruiter = p.Recruiter
		row.Completed = p.Completed
	}
	return row
}

func fromRow(row recordRow) types.Record {
	rec := types.Record{
		ID:       row.ID,
		Kind:     types.RecordKind(row.Kind),
		Name:     row.Name,
		Email:    row.Email,
		Phone:    row.Phone,
		Status:   types.Status(row.Status),
		Joined:   row.Joined,
		Currency: types.Currency(row.Currency),
	}
	switch rec.Kind {
	case types.KindProject:
		rec.Project = &types.ProjectFields{
			Rate:              row.Rate,
			Margin:            row.Margin,
			WorkAuthorization: row.WorkAuthorization,
			EndClient:         row.EndClient,
			AccountManager:    row.AccountManager,
			Recruiter:         row.Recruiter,
			Completed:         row.Completed,
		}
	default:
		rec.Employee = &types.EmployeeFields{
			Position:   row.Position,
			Department: row.Department,
			Salary:     row.Salary,
		}
	}
	return rec
}

const sessionRowID = 1

type SQLiteSessionStore struct {
	sqliteDB
}

func NewSQLiteSessionStore(cfg types.SQLiteConfig) *SQLiteSessionStore {
	return &SQLiteSessionStore{sqliteDB: sqliteDB{cfg: cfg}}
}

func (s *SQLiteSessionStore) Load(ctx context.Context) (types.Session, bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return types.Session{}, false, err
	}
	var row sessionRow
	if err := db.WithContext(ctx).First(&row, "id = ?", sessionRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Session{}, false, nil
		}
		return types.Session{}, false, err
	}

	session := types.Session{Token: row.Token}
	if row.ExpiresAt != nil {
		session.ExpiresAt = *row.ExpiresAt
	}
	if row.UserJSON != nil {
		var u types.User
		if err := json.Unmarshal([]byte(*row.UserJSON), &u); err != nil {
			return types.Session{}, false, fmt.Errorf("decode session user: %w", err)
		}
		session.User = &u
	}
	return session, true, nil
}

func (s *SQLiteSessionStore) Save(ctx context.Context, session types.Session) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	row := sessionRow{ID: sessionRowID, Token: session.Token}
	if !session.ExpiresAt.IsZero() {
		exp := session.ExpiresAt
		row.ExpiresAt = &exp
	}
	if session.User != nil {
		data, err := json.Marshal(session.User)
		if err != nil {
			return fmt.Errorf("encode session user: %w", err)
		}
		doc := string(data)
		row.UserJSON = &doc
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (s *SQLiteSessionStore) Clear(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Delete(&sessionRow{}, "id = ?", sessionRowID).Error
}

func (s *SQLiteSessionStore) Close() error {
	return s.close()
}
