// Package tasks implements the Task Registry (C7): every pipeline
// call creates a task row before returning, the owning worker is the
// only writer after that, and readers (the status endpoint, the
// progress stream) only ever read.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// UploadRegistry owns upload_tasks rows.
type UploadRegistry interface {
	Create(ctx context.Context, tenant string, kind models.UploadKind) (*models.UploadTask, error)
	Get(ctx context.Context, taskID string) (*models.UploadTask, error)
	MostRecent(ctx context.Context, tenant string, kind models.UploadKind) (*models.UploadTask, error)
	UpdateProgress(ctx context.Context, taskID string, mutate func(*models.UploadTask)) error
}

// RecalcRegistry owns recalculation_tasks rows.
type RecalcRegistry interface {
	Create(ctx context.Context, tenant string) (*models.RecalculationTask, error)
	Get(ctx context.Context, taskID string) (*models.RecalculationTask, error)
	MostRecent(ctx context.Context, tenant string) (*models.RecalculationTask, error)
	UpdateProgress(ctx context.Context, taskID string, mutate func(*models.RecalculationTask)) error
}

type uploadRegistry struct {
	db  *sqlx.DB
	log *zap.Logger

	// mu serializes the read-modify-write UpdateProgress does. It is
	// one lock for the whole registry rather than one per row, so
	// updates to different task_ids also wait on each other.
	mu sync.Mutex
}

// NewUploadRegistry builds an UploadRegistry over an already-connected
// *sqlx.DB.
func NewUploadRegistry(db *sqlx.DB, logger *zap.Logger) UploadRegistry {
	return &uploadRegistry{db: db, log: logger}
}

func (r *uploadRegistry) Create(ctx context.Context, tenant string, kind models.UploadKind) (*models.UploadTask, error) {
	task := &models.UploadTask{
		TaskID:    uuid.NewString(),
		Tenant:    tenant,
		Kind:      kind,
		Status:    models.TaskStatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	const query = `
		INSERT INTO upload_tasks (task_id, tenant, kind, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.ExecContext(ctx, query, task.TaskID, task.Tenant, task.Kind, task.Status, task.CreatedAt, task.UpdatedAt); err != nil {
		r.log.Error("failed to create upload task", zap.String("tenant", tenant), zap.Error(err))
		return nil, apperrors.NewDatabaseError("create upload task", err)
	}
	return task, nil
}

func (r *uploadRegistry) Get(ctx context.Context, taskID string) (*models.UploadTask, error) {
	var row uploadTaskRow
	const query = `
		SELECT task_id, tenant, kind, status, progress_total, progress_processed,
		       progress_failed, duplicates, uploaded_blob_keys, current_file, message,
		       created_at, updated_at
		FROM upload_tasks WHERE task_id = $1`

	if err := r.db.GetContext(ctx, &row, query, taskID); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("upload task %s", taskID))
	}
	return row.toModel(), nil
}

func (r *uploadRegistry) MostRecent(ctx context.Context, tenant string, kind models.UploadKind) (*models.UploadTask, error) {
	var row uploadTaskRow
	const query = `
		SELECT task_id, tenant, kind, status, progress_total, progress_processed,
		       progress_failed, duplicates, uploaded_blob_keys, current_file, message,
		       created_at, updated_at
		FROM upload_tasks WHERE tenant = $1 AND kind = $2
		ORDER BY created_at DESC LIMIT 1`

	if err := r.db.GetContext(ctx, &row, query, tenant, kind); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("upload task for tenant %s kind %s", tenant, kind))
	}
	return row.toModel(), nil
}

func (r *uploadRegistry) UpdateProgress(ctx context.Context, taskID string, mutate func(*models.UploadTask)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, err := r.Get(ctx, taskID)
	if err != nil {
		return err
	}
	mutate(task)
	task.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE upload_tasks SET
			status = $1, progress_total = $2, progress_processed = $3, progress_failed = $4,
			duplicates = $5, uploaded_blob_keys = $6, current_file = $7, message = $8, updated_at = $9
		WHERE task_id = $10`

	_, err = r.db.ExecContext(ctx, query,
		task.Status, task.Progress.Total, task.Progress.Processed, task.Progress.Failed,
		pq.Array(task.Duplicates), pq.Array(task.UploadedKeys), task.CurrentFile, task.Message, task.UpdatedAt,
		task.TaskID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update upload task progress", err)
	}
	return nil
}

// uploadTaskRow mirrors models.UploadTask with progress flattened into
// discrete columns and slices scanned via pq.Array, since UploadTask
// itself marks those fields db:"-".
type uploadTaskRow struct {
	TaskID            string    `db:"task_id"`
	Tenant            string    `db:"tenant"`
	Kind              string    `db:"kind"`
	Status            string    `db:"status"`
	ProgressTotal     int       `db:"progress_total"`
	ProgressProcessed int       `db:"progress_processed"`
	ProgressFailed    int       `db:"progress_failed"`
	Duplicates        pq.StringArray `db:"duplicates"`
	UploadedBlobKeys  pq.StringArray `db:"uploaded_blob_keys"`
	CurrentFile       string    `db:"current_file"`
	Message           string    `db:"message"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (row *uploadTaskRow) toModel() *models.UploadTask {
	return &models.UploadTask{
		TaskID: row.TaskID,
		Tenant: row.Tenant,
		Kind:   models.UploadKind(row.Kind),
		Status: models.TaskStatus(row.Status),
		Progress: models.TaskProgress{
			Total:     row.ProgressTotal,
			Processed: row.ProgressProcessed,
			Failed:    row.ProgressFailed,
		},
		Duplicates:   []string(row.Duplicates),
		UploadedKeys: []string(row.UploadedBlobKeys),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		CurrentFile:  row.CurrentFile,
		Message:      row.Message,
	}
}

// kindBoundReader adapts an UploadRegistry fixed to one document kind
// onto the kind-less TaskReader shape httpapi's status endpoints want,
// the same narrowing ingestion.kindBoundStarter does for BatchStarter.
type kindBoundReader struct {
	reg  UploadRegistry
	kind models.UploadKind
}

// NewSalesTaskReader builds a TaskReader bound to UploadKindSales.
func NewSalesTaskReader(reg UploadRegistry) *kindBoundReader {
	return &kindBoundReader{reg: reg, kind: models.UploadKindSales}
}

// NewVendorTaskReader builds a TaskReader bound to UploadKindPurchase.
func NewVendorTaskReader(reg UploadRegistry) *kindBoundReader {
	return &kindBoundReader{reg: reg, kind: models.UploadKindPurchase}
}

func (k *kindBoundReader) Get(ctx context.Context, taskID string) (*models.UploadTask, error) {
	return k.reg.Get(ctx, taskID)
}

func (k *kindBoundReader) MostRecent(ctx context.Context, tenant string) (*models.UploadTask, error) {
	return k.reg.MostRecent(ctx, tenant, k.kind)
}

type recalcRegistry struct {
	db  *sqlx.DB
	log *zap.Logger
	mu  sync.Mutex
}

// NewRecalcRegistry builds a RecalcRegistry over an already-connected
// *sqlx.DB.
func NewRecalcRegistry(db *sqlx.DB, logger *zap.Logger) RecalcRegistry {
	return &recalcRegistry{db: db, log: logger}
}

func (r *recalcRegistry) Create(ctx context.Context, tenant string) (*models.RecalculationTask, error) {
	task := &models.RecalculationTask{
		TaskID:    uuid.NewString(),
		Tenant:    tenant,
		Status:    models.TaskStatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	const query = `
		INSERT INTO recalculation_tasks (task_id, tenant, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, task.TaskID, task.Tenant, task.Status, task.CreatedAt, task.UpdatedAt); err != nil {
		r.log.Error("failed to create recalculation task", zap.String("tenant", tenant), zap.Error(err))
		return nil, apperrors.NewDatabaseError("create recalculation task", err)
	}
	return task, nil
}

func (r *recalcRegistry) Get(ctx context.Context, taskID string) (*models.RecalculationTask, error) {
	var row recalcTaskRow
	const query = `
		SELECT task_id, tenant, status, progress_total, progress_processed, progress_failed,
		       message, created_at, updated_at
		FROM recalculation_tasks WHERE task_id = $1`

	if err := r.db.GetContext(ctx, &row, query, taskID); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("recalculation task %s", taskID))
	}
	return row.toModel(), nil
}

func (r *recalcRegistry) MostRecent(ctx context.Context, tenant string) (*models.RecalculationTask, error) {
	var row recalcTaskRow
	const query = `
		SELECT task_id, tenant, status, progress_total, progress_processed, progress_failed,
		       message, created_at, updated_at
		FROM recalculation_tasks WHERE tenant = $1
		ORDER BY created_at DESC LIMIT 1`

	if err := r.db.GetContext(ctx, &row, query, tenant); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("recalculation task for tenant %s", tenant))
	}
	return row.toModel(), nil
}

func (r *recalcRegistry) UpdateProgress(ctx context.Context, taskID string, mutate func(*models.RecalculationTask)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, err := r.Get(ctx, taskID)
	if err != nil {
		return err
	}
	mutate(task)
	task.UpdatedAt = time.Now().UTC()

	const query = `
		UPDATE recalculation_tasks SET
			status = $1, progress_total = $2, progress_processed = $3, progress_failed = $4,
			message = $5, updated_at = $6
		WHERE task_id = $7`

	_, err = r.db.ExecContext(ctx, query,
		task.Status, task.Progress.Total, task.Progress.Processed, task.Progress.Failed,
		task.Message, task.UpdatedAt, task.TaskID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update recalculation task progress", err)
	}
	return nil
}

type recalcTaskRow struct {
	TaskID            string    `db:"task_id"`
	Tenant            string    `db:"tenant"`
	Status            string    `db:"status"`
	ProgressTotal     int       `db:"progress_total"`
	ProgressProcessed int       `db:"progress_processed"`
	ProgressFailed    int       `db:"progress_failed"`
	Message           string    `db:"message"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (row *recalcTaskRow) toModel() *models.RecalculationTask {
	return &models.RecalculationTask{
		TaskID: row.TaskID,
		Tenant: row.Tenant,
		Status: models.TaskStatus(row.Status),
		Progress: models.TaskProgress{
			Total:     row.ProgressTotal,
			Processed: row.ProgressProcessed,
			Failed:    row.ProgressFailed,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Message:   row.Message,
	}
}
