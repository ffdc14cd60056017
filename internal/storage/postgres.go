package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/xaenox/cara/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStorage stores every collection in one JSONB-backed records table.
type PostgresStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

type recordRow struct {
	Collection string    `db:"collection"`
	ID         string    `db:"id"`
	Data       []byte    `db:"data"`
	Created    time.Time `db:"created"`
	Updated    time.Time `db:"updated"`
}

const recordColumns = `collection, id, data, created, updated`

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}
	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate() error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("error reading migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("error creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	version, _, _ := m.Version()
	s.logger.Info("Database schema ready", zap.Uint("version", version))
	return nil
}

func (row recordRow) toRecord() (Record, error) {
	rec := Record{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &rec); err != nil {
			return nil, fmt.Errorf("decoding record %s: %w", row.ID, err)
		}
	}
	rec["id"] = row.ID
	rec["collectionName"] = row.Collection
	rec["created"] = models.NewDateTime(row.Created).String()
	rec["updated"] = models.NewDateTime(row.Updated).String()
	return rec, nil
}

func (s *PostgresStorage) Create(ctx context.Context, collection string, fields Record) (Record, error) {
	data, err := json.Marshal(userFields(fields))
	if err != nil {
		return nil, newError("create", collection, ErrValidation, err.Error())
	}

	query := `
		INSERT INTO records (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		RETURNING ` + recordColumns

	var row recordRow
	if err := s.db.QueryRowxContext(ctx, query, collection, NewID(), string(data)).StructScan(&row); err != nil {
		return nil, networkError("create", collection, err)
	}
	return row.toRecord()
}

func (s *PostgresStorage) GetOne(ctx context.Context, collection, id string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE collection = $1 AND id = $2`

	var row recordRow
	if err := s.db.GetContext(ctx, &row, query, collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError("get", collection, ErrNotFound, "id "+id)
		}
		return nil, networkError("get", collection, err)
	}
	return row.toRecord()
}

func (s *PostgresStorage) List(ctx context.Context, collection string, opts ListOptions) ([]Record, error) {
	query, args := listQuery(collection, opts)

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, networkError("list", collection, err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// listQuery builds the SELECT for List. Ties on the sort key are broken by
// id in the same direction.
func listQuery(collection string, opts ListOptions) (string, []any) {
	args := []any{collection}
	query := `SELECT ` + recordColumns + ` FROM records WHERE collection = $1`

	if !opts.Filter.IsZero() {
		args = append(args, opts.Filter.Field, opts.Filter.Value)
		query += ` AND data->>$2::text = $3`
	}

	query += ` ORDER BY ` + orderExpression(opts.Sort, &args) + `, id`
	if opts.Sort.Desc {
		query += ` DESC`
	}

	args = append(args, opts.pageSize())
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	return query, args
}

// orderExpression maps a sort onto a column or a JSONB field lookup.
func orderExpression(sort Sort, args *[]any) string {
	dir := " ASC"
	if sort.Desc {
		dir = " DESC"
	}
	switch sort.Field {
	case "", "created":
		return "created" + dir
	case "updated":
		return "updated" + dir
	case "id":
		return "id" + dir
	default:
		*args = append(*args, sort.Field)
		return fmt.Sprintf("data->>$%d::text%s", len(*args), dir)
	}
}

func (s *PostgresStorage) Update(ctx context.Context, collection, id string, fields Record) (Record, error) {
	data, err := json.Marshal(userFields(fields))
	if err != nil {
		return nil, newError("update", collection, ErrValidation, err.Error())
	}

	query := `
		UPDATE records
		SET data = data || $3::jsonb, updated = now()
		WHERE collection = $1 AND id = $2
		RETURNING ` + recordColumns

	var row recordRow
	if err := s.db.QueryRowxContext(ctx, query, collection, id, string(data)).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError("update", collection, ErrNotFound, "id "+id)
		}
		return nil, networkError("update", collection, err)
	}
	return row.toRecord()
}

func (s *PostgresStorage) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return networkError("delete", collection, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return networkError("delete", collection, err)
	}
	if rowsAffected == 0 {
		return newError("delete", collection, ErrNotFound, "id "+id)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

var _ Gateway = (*PostgresStorage)(nil)
