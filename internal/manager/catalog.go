package manager

import (
	"context"
	"fmt"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/normalize"
)

// GetBlends returns blend certificates. A non-empty protocol selects one
// protocol; otherwise peptide selects blends containing that component.
func (m *Manager) GetBlends(ctx context.Context, protocol, peptide string) ([]*contracts.Certificate, error) {
	switch {
	case protocol != "":
		return m.certs.GetBlendsByProtocol(ctx, protocol)
	case peptide != "":
		return m.certs.GetBlendsContaining(ctx, normalize.Peptide(peptide))
	default:
		return nil, fmt.Errorf("protocol or peptide is required")
	}
}

// GetVariableReplicates returns certificates whose replicate readings vary
// by more than minCV percent on some parameter.
func (m *Manager) GetVariableReplicates(ctx context.Context, minCV float64) ([]*contracts.Certificate, error) {
	if minCV < 0 {
		return nil, fmt.Errorf("cv threshold must not be negative, got %v", minCV)
	}
	return m.certs.GetReplicatesAboveCV(ctx, minCV)
}

// RenormalizeNames reapplies the alias tables to every stored raw name and
// rescores when anything changed. It returns the number of rows updated and
// the new snapshot, which is nil when nothing changed.
func (m *Manager) RenormalizeNames(ctx context.Context) (int, *contracts.RankingSnapshot, error) {
	changed, err := m.certs.Renormalize(ctx, normalize.Supplier, normalize.Peptide)
	if err != nil {
		return 0, nil, fmt.Errorf("renormalize names: %w", err)
	}
	m.logger.WithField("changed", changed).Info("Stored names renormalized")
	if changed == 0 {
		return 0, nil, nil
	}

	snap, _, err := m.recalculate(ctx)
	if err != nil {
		return changed, nil, err
	}
	return changed, snap, nil
}
