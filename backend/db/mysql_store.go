package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"firealert/common"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

const mysqlDuplicateEntry = 1062

// MySQLStore keeps every collection in one table of JSON documents.
// Filters are pushed down as JSON_EXTRACT predicates where the value type
// allows it and always re-checked in Go.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// CreateTable creates the documents table if it doesn't exist
func (s *MySQLStore) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		collection VARCHAR(64) NOT NULL,
		id VARCHAR(128) NOT NULL,
		body JSON NOT NULL,
		created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		PRIMARY KEY (collection, id),
		INDEX idx_collection_created (collection, created_at)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (s *MySQLStore) NewID() string {
	return uuid.NewString()
}

func (s *MySQLStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?", collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return decodeBody(id, body)
}

func (s *MySQLStore) Create(ctx context.Context, collection, id string, doc Doc) error {
	body, err := encodeBody(id, doc)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)", collection, id, body)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return ErrAlreadyExists
	}
	common.LogResult("create document", result, err, true)
	if err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *MySQLStore) Set(ctx context.Context, collection, id string, doc Doc, merge bool) error {
	var body []byte
	var err error
	if merge {
		// A merge into a missing document still has to drop nil values.
		body, err = encodeBody(id, MergePatch(nil, copyDoc(doc)))
	} else {
		body, err = encodeBody(id, doc)
	}
	if err != nil {
		return err
	}
	update := "body = VALUES(body)"
	if merge {
		update = "body = JSON_MERGE_PATCH(body, ?)"
	}
	query := "INSERT INTO documents (collection, id, body) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE " + update
	args := []interface{}{collection, id, body}
	if merge {
		patch, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode patch: %w", err)
		}
		args = append(args, patch)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	// 1 row for insert, 2 for update, 0 for a no-op update.
	common.LogResult("set document", result, err, false)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update locks the row, checks the conditions in Go and writes the merged
// body in the same transaction.
func (s *MySQLStore) Update(ctx context.Context, collection, id string, patch Doc, conds ...Filter) error {
	if err := validateFilters(conds); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update of %s/%s: %w", collection, id, err)
	}
	defer tx.Rollback()

	var body []byte
	err = tx.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ? FOR UPDATE", collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s/%s: %w", collection, id, err)
	}
	current, err := decodeBody(id, body)
	if err != nil {
		return err
	}
	if !Matches(current, conds) {
		return ErrConflict
	}
	merged, err := encodeBody(id, MergePatch(current, copyDoc(patch)))
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx,
		"UPDATE documents SET body = ? WHERE collection = ? AND id = ?", merged, collection, id)
	common.LogResult("update document", result, err, false)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update of %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *MySQLStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	where, args := buildPredicates(filters)
	query := "SELECT id, body FROM documents WHERE collection = ?" + where + " ORDER BY created_at, id"
	rows, err := s.db.QueryContext(ctx, query, append([]interface{}{collection}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			log.Errorf("Cannot scan a document row in %s: %v", collection, err)
			continue
		}
		d, err := decodeBody(id, body)
		if err != nil {
			log.Errorf("Skipping undecodable document %s/%s: %v", collection, id, err)
			continue
		}
		if Matches(d, filters) {
			out = append(out, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", collection, err)
	}
	return out, nil
}

func (s *MySQLStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
	common.LogResult("delete document", result, err, false)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result of %s/%s: %w", collection, id, err)
	}
	return n > 0, nil
}

// buildPredicates turns the filters it can express in SQL into AND clauses.
// Strings compare on the unquoted value, numbers on the JSON value.
func buildPredicates(filters []Filter) (string, []interface{}) {
	var (
		sb   strings.Builder
		args []interface{}
	)
	for _, f := range filters {
		path := "$." + f.Field
		switch f.Op {
		case OpEq, OpLte, OpGte:
			expr, ok := extractExpr(f.Value)
			if !ok {
				continue
			}
			op := string(f.Op)
			if f.Op == OpEq {
				op = "="
			}
			fmt.Fprintf(&sb, " AND %s %s ?", expr, op)
			args = append(args, path, f.Value)
		case OpIn:
			vs := f.Value.([]interface{})
			if len(vs) == 0 {
				sb.WriteString(" AND FALSE")
				continue
			}
			expr, ok := extractExpr(vs[0])
			if !ok || !sameKind(vs) {
				continue
			}
			fmt.Fprintf(&sb, " AND %s IN (%s)", expr, strings.TrimSuffix(strings.Repeat("?, ", len(vs)), ", "))
			args = append(args, path)
			args = append(args, vs...)
		}
	}
	return sb.String(), args
}

func extractExpr(v interface{}) (string, bool) {
	if _, ok := v.(string); ok {
		return "JSON_UNQUOTE(JSON_EXTRACT(body, ?))", true
	}
	if _, ok := toFloat(v); ok {
		return "JSON_EXTRACT(body, ?)", true
	}
	return "", false
}

func sameKind(vs []interface{}) bool {
	_, firstStr := vs[0].(string)
	for _, v := range vs[1:] {
		if _, isStr := v.(string); isStr != firstStr {
			return false
		}
		if !firstStr {
			if _, ok := toFloat(v); !ok {
				return false
			}
		}
	}
	return true
}

func encodeBody(id string, doc Doc) ([]byte, error) {
	d := copyDoc(doc)
	d[IDField] = id
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	return b, nil
}

func decodeBody(id string, body []byte) (Doc, error) {
	var d Doc
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	if d == nil {
		d = Doc{}
	}
	d[IDField] = id
	return d, nil
}
