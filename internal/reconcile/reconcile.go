// Package reconcile merges vault records from independent providers into
// at most one canonical record per vault identity.
package reconcile

import (
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-yield-resolver/internal/model"
)

// Merge collapses records sharing an identity key into one canonical
// record per vault. When providers disagree, the record carrying a risk
// score is preferred; among records with the same risk-score presence the
// one with strictly greater TVL wins. Remaining ties fall through to a
// deterministic content comparison, so the merge is idempotent and
// independent of provider arrival order.
func Merge(records []model.VaultRecord) []model.VaultRecord {
	byIdentity := make(map[string]model.VaultRecord, len(records))

	for _, r := range records {
		id := r.Identity()
		current, seen := byIdentity[id]
		if !seen {
			byIdentity[id] = r
			continue
		}
		if prefer(r, current) {
			logrus.Debugf("Reconciled %s: %s supersedes %s", id, r.DataSource, current.DataSource)
			byIdentity[id] = r
		}
	}

	merged := make([]model.VaultRecord, 0, len(byIdentity))
	for _, r := range byIdentity {
		merged = append(merged, r)
	}
	// First-seen order depends on provider arrival, so re-sort by identity
	// to keep the merged set deterministic for any input permutation.
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Identity() < merged[j].Identity()
	})
	return merged
}

// prefer reports whether challenger strictly beats incumbent. The
// comparison is lexicographic over (has risk score, TVL), then falls back
// to source and collection time so that identical preference keys still
// order totally.
func prefer(challenger, incumbent model.VaultRecord) bool {
	cRisk, iRisk := challenger.RiskScore != nil, incumbent.RiskScore != nil
	if cRisk != iRisk {
		return cRisk
	}
	if challenger.TVLUSD != incumbent.TVLUSD {
		return challenger.TVLUSD > incumbent.TVLUSD
	}
	if challenger.DataSource != incumbent.DataSource {
		return challenger.DataSource < incumbent.DataSource
	}
	return challenger.CollectedAt > incumbent.CollectedAt
}
