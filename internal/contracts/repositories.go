package contracts

import (
	"context"
	"time"
)

// CertificateRepository persists certificates.
type CertificateRepository interface {
	Upsert(ctx context.Context, cert *Certificate) (UpsertOutcome, error)
	GetByTaskNumber(ctx context.Context, taskNumber string) (*Certificate, error)
	ExistsByImageHash(ctx context.Context, imageHash string) (bool, error)
	GetBySupplier(ctx context.Context, supplier string) ([]*Certificate, error)
	GetByPeptide(ctx context.Context, peptide string, filter *QuantityFilter) ([]*Certificate, error)
	ListAll(ctx context.Context) ([]*Certificate, error)
	Count(ctx context.Context) (int, error)
	UniqueSuppliers(ctx context.Context) ([]string, error)
	CountBlends(ctx context.Context) (int, error)
	CountReplicates(ctx context.Context) (int, error)
}

// RankingRepository persists ranking snapshots.
type RankingRepository interface {
	SaveSnapshot(ctx context.Context, snapshot *RankingSnapshot) error
	Latest(ctx context.Context, topN int) ([]SupplierRanking, error)
	LatestSnapshot(ctx context.Context) (*RankingSnapshot, error)
	SupplierHistory(ctx context.Context, supplier string, limit int) ([]SupplierRanking, error)
	SupplierTrend(ctx context.Context, supplier string) ([]TrendPoint, error)
	DeleteOldSnapshots(ctx context.Context, keepLast int) (int, error)
	Count(ctx context.Context) (int, error)
	CountSnapshots(ctx context.Context) (int, error)
	LastComputedAt(ctx context.Context) (*time.Time, error)
}
