package database

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
)

// defaultBatchSize is the row count per upsert statement. Below this,
// per-row upserts are fine; past a few thousand rows the per-row round
// trip crosses a 10x slowdown against a single batched statement, so
// every bulk sync path goes through BatchUpsert instead.
const defaultBatchSize = 500

// maxFetchPageSize bounds a single paginated-fetch query. Callers
// asking for more rows than this are served through transparent
// multi-query iteration rather than one unbounded SELECT.
const maxFetchPageSize = 1000

// BatchUpsertSpec describes one bulk upsert: the target table, its
// column order (matching each row's value order), and the columns
// that make up the conflict target for ON CONFLICT DO UPDATE.
type BatchUpsertSpec struct {
	Table          string
	Columns        []string
	ConflictCols   []string
	UpdateCols     []string // columns to refresh on conflict; defaults to Columns minus ConflictCols
	BatchSize      int      // defaults to defaultBatchSize when <= 0
}

// BatchUpsert writes rows to spec.Table in chunks of spec.BatchSize,
// each chunk a single multi-row INSERT .. ON CONFLICT .. DO UPDATE
// statement. Each entry in rows must supply exactly len(spec.Columns)
// values in column order.
func BatchUpsert(ctx context.Context, db *sqlx.DB, logger *zap.Logger, spec BatchUpsertSpec, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	batchSize := spec.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	updateCols := spec.UpdateCols
	if len(updateCols) == 0 {
		updateCols = nonConflictColumns(spec.Columns, spec.ConflictCols)
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		query, args, err := buildUpsertQuery(spec, updateCols, chunk)
		if err != nil {
			return err
		}

		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			logger.Error("batch upsert failed",
				zap.String("table", spec.Table), zap.Int("chunk_start", start), zap.Int("chunk_size", len(chunk)), zap.Error(err))
			return apperrors.NewDatabaseError(fmt.Sprintf("batch upsert into %s", spec.Table), err)
		}
	}

	return nil
}

func nonConflictColumns(columns, conflictCols []string) []string {
	conflict := make(map[string]bool, len(conflictCols))
	for _, c := range conflictCols {
		conflict[c] = true
	}
	var out []string
	for _, c := range columns {
		if !conflict[c] {
			out = append(out, c)
		}
	}
	return out
}

func buildUpsertQuery(spec BatchUpsertSpec, updateCols []string, chunk [][]interface{}) (string, []interface{}, error) {
	var placeholders []string
	var args []interface{}
	n := 1
	for _, row := range chunk {
		if len(row) != len(spec.Columns) {
			return "", nil, apperrors.NewValidationError(
				fmt.Sprintf("batch upsert row has %d values, expected %d", len(row), len(spec.Columns)))
		}
		cols := make([]string, len(row))
		for i := range row {
			cols[i] = fmt.Sprintf("$%d", n)
			n++
		}
		placeholders = append(placeholders, "("+strings.Join(cols, ", ")+")")
		args = append(args, row...)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(spec.Table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(spec.Columns, ", "))
	sb.WriteString(") VALUES ")
	sb.WriteString(strings.Join(placeholders, ", "))
	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(strings.Join(spec.ConflictCols, ", "))
	sb.WriteString(") DO UPDATE SET ")

	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	sb.WriteString(strings.Join(sets, ", "))

	return sb.String(), args, nil
}

// LockIDForTenant derives the session-lock id used to serialize stock
// recalculation for a tenant: the first 8 bytes of sha256(tenant),
// interpreted as a big-endian uint64 and reduced modulo 2^63-1 so it
// fits the signed bigint pg_advisory_lock expects.
func LockIDForTenant(tenant string) int64 {
	sum := sha256.Sum256([]byte(tenant))
	v := binary.BigEndian.Uint64(sum[:8])
	return int64(v % (1<<63 - 1))
}

// AcquireTenantLock blocks until it holds the Postgres session-scoped
// advisory lock for tenant, returning a release func. The lock is
// bound to conn, not to the statement, so a crash or dropped
// connection releases it automatically on the server side even if
// release is never called.
func AcquireTenantLock(ctx context.Context, db *sqlx.DB, tenant string) (release func() error, err error) {
	lockID := LockIDForTenant(tenant)

	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("acquire connection for advisory lock", err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Close()
		return nil, apperrors.NewDatabaseError(fmt.Sprintf("acquire advisory lock for tenant %s", tenant), err)
	}

	released := false
	release = func() error {
		if released {
			return nil
		}
		released = true
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			return apperrors.NewDatabaseError(fmt.Sprintf("release advisory lock for tenant %s", tenant), err)
		}
		return nil
	}
	return release, nil
}

// FetchPage runs query (which must end without a LIMIT/OFFSET clause)
// and scans up to limit rows starting at offset into dest, a pointer
// to a slice. A limit of 0 or negative means "fetch all matching
// rows", iterating internally in pages of maxFetchPageSize; a limit at
// or below maxFetchPageSize is served as a single query.
func FetchPage(ctx context.Context, db *sqlx.DB, dest interface{}, query string, args []interface{}, offset, limit int) error {
	if limit > 0 && limit <= maxFetchPageSize {
		paged := fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset)
		if err := db.SelectContext(ctx, dest, paged, args...); err != nil {
			return apperrors.NewDatabaseError("fetch page", err)
		}
		return nil
	}

	return fetchAll(ctx, db, dest, query, args, offset, limit)
}

// fetchAll iterates query in pages of maxFetchPageSize, appending each
// page's rows into the slice dest points to, until a short page (or,
// for a bounded limit, the requested count) signals there is nothing
// left to fetch. dest must be a pointer to a slice.
func fetchAll(ctx context.Context, db *sqlx.DB, dest interface{}, query string, args []interface{}, offset, limit int) error {
	destPtr := reflect.ValueOf(dest)
	if destPtr.Kind() != reflect.Ptr || destPtr.Elem().Kind() != reflect.Slice {
		return apperrors.New(apperrors.ErrorTypeInternal, "fetch destination must be a pointer to a slice")
	}
	sliceType := destPtr.Elem().Type()
	accum := reflect.MakeSlice(sliceType, 0, 0)

	remaining := limit // <= 0 means unbounded
	cursor := offset

	for {
		pageSize := maxFetchPageSize
		if remaining > 0 && remaining < pageSize {
			pageSize = remaining
		}

		pagePtr := reflect.New(sliceType)
		paged := fmt.Sprintf("%s LIMIT %d OFFSET %d", query, pageSize, cursor)
		if err := db.SelectContext(ctx, pagePtr.Interface(), paged, args...); err != nil {
			return apperrors.NewDatabaseError("fetch page", err)
		}

		n := pagePtr.Elem().Len()
		accum = reflect.AppendSlice(accum, pagePtr.Elem())
		cursor += n
		if remaining > 0 {
			remaining -= n
		}

		if n < pageSize || n == 0 {
			break
		}
		if limit > 0 && remaining <= 0 {
			break
		}
	}

	destPtr.Elem().Set(accum)
	return nil
}
