package fixture

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/tossie79/tmhcc-insurance/internal/model"
)

type lookupRow struct {
	name        string
	description string
}

var seedStatuses = []lookupRow{
	{string(model.PolicyStatusActive), "Policy is currently active and providing coverage"},
	{string(model.PolicyStatusPending), "Policy is created but not yet activated"},
	{string(model.PolicyStatusInactive), "Policy is no longer active (expired or suspended)"},
	{string(model.PolicyStatusCancelled), "Policy has been cancelled by insurer or insured"},
}

var seedTypes = []lookupRow{
	{string(model.PolicyTypeProperty), "Insurance for buildings, contents, and business interruption"},
	{string(model.PolicyTypeCasualty), "Liability insurance for injuries and damages to others"},
	{string(model.PolicyTypeMarine), "Insurance for ships, cargo, and marine liabilities"},
	{string(model.PolicyTypeConstruction), "Insurance for construction projects and contractors"},
}

// seedPolicy dates are day offsets from the seeding day.
type seedPolicy struct {
	number       string
	insured      string
	premiumMinor int64
	currency     string
	startOffset  int
	endOffset    int
	status       model.PolicyStatus
	policyType   model.PolicyType
}

var seedPolicies = []seedPolicy{
	{"TMPROP2024001", "Acme Corporation Ltd", 1250000, "GBP", -30, 335, model.PolicyStatusActive, model.PolicyTypeProperty},
	{"TMPROP2024002", "Global Logistics Inc", 875050, "GBP", -15, 350, model.PolicyStatusActive, model.PolicyTypeProperty},
	{"TMPROP2024003", "Safe Hands Hospital", 4520000, "GBP", -60, 305, model.PolicyStatusActive, model.PolicyTypeProperty},
	{"TMMAR2024001", "Ocean Freight Services", 2340000, "GBP", 7, 372, model.PolicyStatusPending, model.PolicyTypeMarine},
	{"TMCONST202401", "Tech Innovations Ltd", 680000, "GBP", 14, 379, model.PolicyStatusPending, model.PolicyTypeConstruction},
	{"TMCAS2024001", "Metro Transport Ltd", 1890000, "GBP", 3, 368, model.PolicyStatusPending, model.PolicyTypeCasualty},
	{"TMCAS2023001", "City Construction Group", 1560075, "GBP", -400, -35, model.PolicyStatusInactive, model.PolicyTypeCasualty},
	{"TMPROP2023001", "Retail Chain UK Ltd", 890000, "GBP", -395, -30, model.PolicyStatusInactive, model.PolicyTypeProperty},
	{"TMMAR2023001", "Port Authority Ltd", 3215000, "GBP", -200, 165, model.PolicyStatusCancelled, model.PolicyTypeMarine},
	{"TMCAS2023051", "Manufacturing Solutions Inc", 1120000, "GBP", -150, 215, model.PolicyStatusCancelled, model.PolicyTypeCasualty},
	{"TMPROP2024004", "University Campus Ltd", 2870000, "GBP", -45, 320, model.PolicyStatusActive, model.PolicyTypeProperty},
	{"TMMAR2024002", "Coastal Shipping Co", 1560000, "GBP", 10, 375, model.PolicyStatusPending, model.PolicyTypeMarine},
	{"TMCONST202402", "Bridge Builders Ltd", 5430000, "GBP", -20, 345, model.PolicyStatusActive, model.PolicyTypeConstruction},
}

// Seed loads the sample lookup tables and policies, dating the policies
// relative to today. An already populated store is left untouched unless
// reseed is set, in which case every policy is replaced. It returns the number
// of policies written.
func (s *Store) Seed(ctx context.Context, today time.Time, reseed bool) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && !reseed {
		s.log.V(1).Info("store already seeded", "policies", n)
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "fixture: begin seed")
	}
	defer func() { _ = tx.Rollback() }()

	if reseed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM policies`); err != nil {
			return 0, errors.Wrap(err, "fixture: clear policies")
		}
	}
	statusIDs, err := upsertLookup(ctx, tx, "policy_statuses", seedStatuses)
	if err != nil {
		return 0, err
	}
	typeIDs, err := upsertLookup(ctx, tx, "policy_types", seedTypes)
	if err != nil {
		return 0, err
	}

	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	nowMs := time.Now().UnixMilli()
	for _, p := range seedPolicies {
		_, err := tx.ExecContext(ctx, `INSERT INTO policies
			(policy_number, insured_name, premium_minor, premium_currency, start_date, end_date,
			 status_id, type_id, created_at_unixms, updated_at_unixms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.number, p.insured, p.premiumMinor, p.currency,
			day.AddDate(0, 0, p.startOffset).Format(dateLayout),
			day.AddDate(0, 0, p.endOffset).Format(dateLayout),
			statusIDs[string(p.status)], typeIDs[string(p.policyType)], nowMs, nowMs,
		)
		if err != nil {
			return 0, errors.Wrapf(err, "fixture: insert %s", p.number)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "fixture: commit seed")
	}
	s.log.Info("seeded policies", "policies", len(seedPolicies), "today", day.Format(dateLayout))
	return len(seedPolicies), nil
}

func upsertLookup(ctx context.Context, tx *sql.Tx, table string, rows []lookupRow) (map[string]int64, error) {
	ids := make(map[string]int64, len(rows))
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (name, description) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET description = excluded.description`,
			r.name, r.description); err != nil {
			return nil, errors.Wrapf(err, "fixture: upsert %s %s", table, r.name)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE name = ?`, r.name).Scan(&id); err != nil {
			return nil, errors.Wrapf(err, "fixture: lookup %s %s", table, r.name)
		}
		ids[r.name] = id
	}
	return ids, nil
}
