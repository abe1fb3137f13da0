package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-yield-resolver/internal/model"
	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// RecordRepository persists and recalls canonical vault records.
type RecordRepository struct {
	db *PostgresDB
}

// NewRecordRepository creates a record repository over the database.
func NewRecordRepository(db *PostgresDB) *RecordRepository {
	return &RecordRepository{db: db}
}

// PersistRecords upserts records by identity (lowercased address +
// chain). Later snapshots of the same vault overwrite earlier ones.
func (r *RecordRepository) PersistRecords(ctx context.Context, records []model.VaultRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO vault_records (
			vault_address, chain, protocol, name, asset_symbol,
			apy, tvl_usd, data_source, collected_at,
			risk_score, validation_score, data_confidence,
			calculated_apy, calculation_method, confidence_score
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (vault_address, chain)
		DO UPDATE SET
			protocol = EXCLUDED.protocol,
			name = EXCLUDED.name,
			asset_symbol = EXCLUDED.asset_symbol,
			apy = EXCLUDED.apy,
			tvl_usd = EXCLUDED.tvl_usd,
			data_source = EXCLUDED.data_source,
			collected_at = EXCLUDED.collected_at,
			risk_score = EXCLUDED.risk_score,
			validation_score = EXCLUDED.validation_score,
			data_confidence = EXCLUDED.data_confidence,
			calculated_apy = EXCLUDED.calculated_apy,
			calculation_method = EXCLUDED.calculation_method,
			confidence_score = EXCLUDED.confidence_score
	`

	for _, record := range records {
		_, err := r.db.Pool().Exec(ctx, query,
			strings.ToLower(record.VaultAddress),
			strings.ToLower(string(record.Chain)),
			record.Protocol,
			record.Name,
			record.AssetSymbol,
			record.APY,
			record.TVLUSD,
			record.DataSource,
			record.CollectedAt,
			record.RiskScore,
			record.ValidationScore,
			nullableString(string(record.DataConfidence)),
			record.CalculatedAPY,
			nullableString(record.CalculationMethod),
			record.ConfidenceScore,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert vault record %s: %w", record.Identity(), err)
		}
	}

	logrus.Debugf("Persisted %d vault records", len(records))
	return nil
}

// QueryRecentRecords returns stored records for an asset collected
// within maxAge. An empty chain matches every chain. No matching rows is
// a normal empty result, not an error.
func (r *RecordRepository) QueryRecentRecords(ctx context.Context, asset string, chain types.Chain, maxAge time.Duration) ([]model.VaultRecord, error) {
	query := `
		SELECT vault_address, chain, protocol, name, asset_symbol,
			   apy, tvl_usd, data_source, collected_at,
			   risk_score, validation_score, data_confidence,
			   calculated_apy, calculation_method, confidence_score
		FROM vault_records
		WHERE lower(asset_symbol) = lower($1) AND collected_at >= $2
	`
	args := []any{asset, time.Now().Add(-maxAge).Unix()}
	if chain != "" {
		query += " AND chain = $3"
		args = append(args, string(chain))
	}
	query += " ORDER BY tvl_usd DESC"

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault records: %w", err)
	}
	defer rows.Close()

	var records []model.VaultRecord
	for rows.Next() {
		var (
			record            model.VaultRecord
			chainName         string
			dataConfidence    *string
			calculationMethod *string
		)
		err := rows.Scan(
			&record.VaultAddress,
			&chainName,
			&record.Protocol,
			&record.Name,
			&record.AssetSymbol,
			&record.APY,
			&record.TVLUSD,
			&record.DataSource,
			&record.CollectedAt,
			&record.RiskScore,
			&record.ValidationScore,
			&dataConfidence,
			&record.CalculatedAPY,
			&calculationMethod,
			&record.ConfidenceScore,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vault record: %w", err)
		}
		record.Chain = types.Chain(chainName)
		record.Family = types.ClassifyProtocol(record.Protocol)
		if dataConfidence != nil {
			record.DataConfidence = model.DataConfidence(*dataConfidence)
		}
		if calculationMethod != nil {
			record.CalculationMethod = *calculationMethod
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
