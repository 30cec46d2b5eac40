package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"restylinchpin/internal/domain"
	"restylinchpin/internal/store"
)

// Store keeps each collection in its own table of JSON documents.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the tables backing the given collections.
func (s *Store) Init(ctx context.Context, colls ...store.Collection) error {
	for _, coll := range colls {
		if err := store.ValidateField(string(coll)); err != nil {
			return err
		}
		stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	doc_id INTEGER PRIMARY KEY AUTOINCREMENT,
	body TEXT NOT NULL CHECK (json_valid(body))
);`, coll)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create %s table: %v", domain.ErrStorage, coll, err)
		}
	}
	return nil
}

// EnsureIndex adds an expression index on a document field. A unique index
// makes duplicate inserts fail with domain.ErrAlreadyExists.
func (s *Store) EnsureIndex(ctx context.Context, coll store.Collection, field string, unique bool) error {
	if err := store.ValidateField(field); err != nil {
		return err
	}
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	stmt := fmt.Sprintf(`CREATE %s IF NOT EXISTS idx_%s_%s ON %s(%s)`, kind, coll, field, coll, fieldExpr(field))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%w: create index %s.%s: %v", domain.ErrStorage, coll, field, err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, coll store.Collection, doc store.Document) error {
	if err := store.ValidateField(string(coll)); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", domain.ErrValidation, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (body) VALUES (?)`, coll), string(body)); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("%w: %s document", domain.ErrAlreadyExists, coll)
		}
		return fmt.Errorf("%w: insert %s: %v", domain.ErrStorage, coll, err)
	}
	return nil
}

func (s *Store) FindOne(ctx context.Context, coll store.Collection, filter store.Filter) (store.Document, error) {
	where, args, err := buildWhere(coll, filter)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT body FROM %s%s ORDER BY doc_id ASC LIMIT 1`, coll, where), args...)

	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoDocument
		}
		return nil, fmt.Errorf("%w: query %s: %v", domain.ErrStorage, coll, err)
	}
	return decode(body)
}

func (s *Store) FindAll(ctx context.Context, coll store.Collection, filter store.Filter) ([]store.Document, error) {
	where, args, err := buildWhere(coll, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT body FROM %s%s ORDER BY doc_id ASC`, coll, where), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", domain.ErrStorage, coll, err)
	}
	defer rows.Close()

	docs := []store.Document{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", domain.ErrStorage, coll, err)
		}
		doc, err := decode(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate %s: %v", domain.ErrStorage, coll, err)
	}
	return docs, nil
}

func (s *Store) Update(ctx context.Context, coll store.Collection, filter store.Filter, patch store.Patch) (int, error) {
	for field := range patch {
		if err := store.ValidateField(field); err != nil {
			return 0, err
		}
	}
	where, args, err := buildWhere(coll, filter)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback() // safe no-op on commit

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT doc_id, body FROM %s%s`, coll, where), args...)
	if err != nil {
		return 0, fmt.Errorf("%w: query %s for update: %v", domain.ErrStorage, coll, err)
	}
	type pending struct {
		id   int64
		body string
	}
	var matched []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.body); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: scan %s: %v", domain.ErrStorage, coll, err)
		}
		matched = append(matched, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%w: iterate %s: %v", domain.ErrStorage, coll, err)
	}

	for _, p := range matched {
		doc, err := decode(p.body)
		if err != nil {
			return 0, err
		}
		for field, value := range patch {
			if value == nil {
				delete(doc, field)
				continue
			}
			doc[field] = value
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("%w: encode document: %v", domain.ErrValidation, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET body=? WHERE doc_id=?`, coll), string(body), p.id); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique") {
				return 0, fmt.Errorf("%w: %s document", domain.ErrAlreadyExists, coll)
			}
			return 0, fmt.Errorf("%w: update %s: %v", domain.ErrStorage, coll, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit update: %v", domain.ErrStorage, err)
	}
	return len(matched), nil
}

func (s *Store) Remove(ctx context.Context, coll store.Collection, filter store.Filter) (int, error) {
	where, args, err := buildWhere(coll, filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s%s`, coll, where), args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete %s: %v", domain.ErrStorage, coll, err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %s delete rows affected: %v", domain.ErrStorage, coll, err)
	}
	return int(aff), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func fieldExpr(field string) string {
	return fmt.Sprintf(`json_extract(body, '$.%s')`, field)
}

// buildWhere renders the filter in a stable field order. A nil value matches
// documents where the field is absent or null.
func buildWhere(coll store.Collection, filter store.Filter) (string, []any, error) {
	if err := store.ValidateField(string(coll)); err != nil {
		return "", nil, err
	}
	if len(filter) == 0 {
		return "", nil, nil
	}

	fields := make([]string, 0, len(filter))
	for field := range filter {
		if err := store.ValidateField(field); err != nil {
			return "", nil, err
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	clauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, field := range fields {
		value := filter[field]
		if value == nil {
			clauses = append(clauses, fieldExpr(field)+" IS NULL")
			continue
		}
		if b, ok := value.(bool); ok {
			// json booleans extract as 0/1
			value = 0
			if b {
				value = 1
			}
		}
		clauses = append(clauses, fieldExpr(field)+" = ?")
		args = append(args, value)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func decode(body string) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", domain.ErrStorage, err)
	}
	return doc, nil
}

var _ store.RecordStore = (*Store)(nil)
