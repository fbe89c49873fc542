package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/inkwell-ai/inkwell/internal/usage/domain"
	pkgdb "github.com/inkwell-ai/inkwell/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const usageColumns = `id, account_id, action_kind, credits_charged, cost_minor,
	success, external_job_id, metadata, created_at`

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (
			id, account_id, action_kind, credits_charged, cost_minor,
			success, external_job_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AccountID,
		record.ActionKind,
		record.CreditsCharged,
		record.CostMinor,
		record.Success,
		record.ExternalJobID,
		record.Metadata,
		record.CreatedAt,
	).Error
}

// InsertIdempotent appends a successful charge record unless the partial
// unique index over (account_id, action_kind, external_job_id) already holds
// one. The false return is the storage-level "already applied" signal that
// closes the check-then-act race between concurrent pollers.
func (r *repo) InsertIdempotent(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) (bool, error) {
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return r.insertIdempotentSQLite(ctx, db, record)
	}

	res := db.WithContext(ctx).Clauses(buildAsyncChargeConflictClause(db)).Create(record)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// insertIdempotentSQLite spells the conflict target out, WHERE clause
// included; sqlite only matches a partial index when the upsert repeats its
// predicate.
func (r *repo) insertIdempotentSQLite(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (
			id, account_id, action_kind, credits_charged, cost_minor,
			success, external_job_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, action_kind, external_job_id)
		WHERE success AND external_job_id IS NOT NULL
		DO NOTHING`,
		record.ID,
		record.AccountID,
		record.ActionKind,
		record.CreditsCharged,
		record.CostMinor,
		record.Success,
		record.ExternalJobID,
		record.Metadata,
		record.CreatedAt,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func buildAsyncChargeConflictClause(db *gorm.DB) clause.OnConflict {
	conflict := clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
			{Name: "action_kind"},
			{Name: "external_job_id"},
		},
		DoNothing: true,
	}
	if db != nil && strings.EqualFold(db.Dialector.Name(), "postgres") {
		conflict.TargetWhere = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "success AND external_job_id IS NOT NULL"},
		}}
	}
	return conflict
}

func (r *repo) FindSuccessByJob(ctx context.Context, db *gorm.DB, accountID snowflake.ID, actionKind string, externalJobID string) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+`
		 FROM usage_records
		 WHERE account_id = ? AND action_kind = ? AND external_job_id = ? AND success
		 LIMIT 1`,
		accountID,
		actionKind,
		externalJobID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]usagedomain.UsageRecord, error) {
	var records []usagedomain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+`
		 FROM usage_records WHERE account_id = ? ORDER BY created_at DESC`,
		accountID,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
