package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/store"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// args accumulates positional arguments and renders dialect placeholders.
type args struct {
	d    dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.placeholder(len(a.vals))
}

func wrapErr(d dialect, op string, err error) error {
	if d.isConflict(err) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func queryCreate(ctx context.Context, db executor, d dialect, rec model.Record) error {
	t, err := tableFor(rec.Kind())
	if err != nil {
		return err
	}
	vals, err := t.values(rec)
	if err != nil {
		return fmt.Errorf("create %s: %w", t.kind, err)
	}
	a := &args{d: d}
	placeholders := make([]string, len(vals))
	for i, v := range vals {
		placeholders[i] = a.add(v)
	}
	q := `INSERT INTO ` + t.name + ` (` + t.selectList() + `) VALUES (` + strings.Join(placeholders, ", ") + `)`
	if _, err := db.ExecContext(ctx, q, a.vals...); err != nil {
		return wrapErr(d, "create "+string(t.kind), err)
	}
	return nil
}

// queryGet reads one row. lock is set inside transactions so a
// read-modify-write holds the row until commit.
func queryGet(ctx context.Context, db executor, d dialect, kind model.Kind, id string, lock bool) (model.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	a := &args{d: d}
	q := `SELECT ` + t.selectList() + ` FROM ` + t.name + ` WHERE id = ` + a.add(id)
	if lock {
		q += d.forUpdate
	}
	rec, err := t.scan(db.QueryRowContext(ctx, q, a.vals...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s %q: %w", kind, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %q: %w", kind, id, err)
	}
	return rec, nil
}

func queryUpdate(ctx context.Context, db executor, d dialect, rec model.Record) error {
	t, err := tableFor(rec.Kind())
	if err != nil {
		return err
	}
	vals, err := t.values(rec)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.kind, err)
	}
	a := &args{d: d}
	sets := make([]string, 0, len(t.columns)-1)
	for i, col := range t.columns[1:] {
		sets = append(sets, col+" = "+a.add(vals[i+1]))
	}
	q := `UPDATE ` + t.name + ` SET ` + strings.Join(sets, ", ") + ` WHERE id = ` + a.add(vals[0])
	res, err := db.ExecContext(ctx, q, a.vals...)
	if err != nil {
		return wrapErr(d, "update "+string(t.kind), err)
	}
	return checkAffected(res, t.kind, rec.PrimaryKey(), "update")
}

func queryDelete(ctx context.Context, db executor, d dialect, kind model.Kind, id string) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	a := &args{d: d}
	res, err := db.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE id = `+a.add(id), a.vals...)
	if err != nil {
		return wrapErr(d, "delete "+string(kind), err)
	}
	return checkAffected(res, kind, id, "delete")
}

func checkAffected(res sql.Result, kind model.Kind, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s %q: rows affected: %w", op, kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s %q: %w", op, kind, id, store.ErrNotFound)
	}
	return nil
}

// buildWhere renders the filter as a WHERE clause (without the keyword).
// Exact fields are ANDed; fuzzy fields form one ORed group of
// case-insensitive substring matches. Unknown exact fields match nothing.
// Unknown fuzzy fields read as "" and so match only an empty needle.
func buildWhere(t *table, a *args, filter model.ListFilter) string {
	var clauses []string

	if t.softDelete && !filter.IncludeDeleting {
		clauses = append(clauses, "lifecycle = "+a.add(string(model.LifecycleActive)))
	}

	for _, field := range sortedKeys(filter.Fields) {
		if !t.hasColumn(field) {
			clauses = append(clauses, "1 = 0")
			continue
		}
		clauses = append(clauses, field+" = "+a.add(filter.Fields[field]))
	}

	if len(filter.FuzzyFields) > 0 {
		var ors []string
		for _, field := range sortedKeys(filter.FuzzyFields) {
			needle := filter.FuzzyFields[field]
			if !t.hasColumn(field) {
				if needle == "" {
					ors = append(ors, "1 = 1")
				}
				continue
			}
			ors = append(ors, a.d.lower+"(COALESCE("+field+", '')) LIKE "+a.add(likePattern(needle))+` ESCAPE '\'`)
		}
		if len(ors) == 0 {
			ors = append(ors, "1 = 0")
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}

	return strings.Join(clauses, " AND ")
}

func likePattern(needle string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(needle)) + "%"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func queryList(ctx context.Context, db executor, d dialect, kind model.Kind, filter model.ListFilter) ([]model.Record, int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, 0, err
	}

	a := &args{d: d}
	where := buildWhere(t, a, filter)
	if where != "" {
		where = " WHERE " + where
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM ` + t.name + where
	if err := db.QueryRowContext(ctx, countQuery, a.vals...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", kind, err)
	}

	q := `SELECT ` + t.selectList() + ` FROM ` + t.name + where +
		` ORDER BY ` + t.parseSort(filter.Sort) + `, id ASC`
	if filter.PerPage > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.PerPage, filter.Offset())
	}

	rows, err := db.QueryContext(ctx, q, a.vals...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		rec, err := t.scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", kind, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return recs, total, nil
}
