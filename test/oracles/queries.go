package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All lists the invariants checked directly against ledger_entries. Each
// query returns rows only when its invariant is broken.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_negative_balance",
			SQL: `SELECT key, value FROM ledger_entries
                  WHERE key LIKE 'balance/%' AND value IS NOT NULL
                    AND (value #>> '{}')::bigint < 0`,
		},
		{
			Name: "O2_payment_count_matches_records",
			SQL: `SELECT a.key, a.value->>'payment_count' AS recorded, COUNT(p.key) AS stored
                  FROM ledger_entries a
                  LEFT JOIN ledger_entries p
                    ON p.key LIKE 'payment/' || split_part(a.key, '/', 2) || '/%'
                   AND p.value IS NOT NULL
                  WHERE a.key LIKE 'agreement/%' AND a.value IS NOT NULL
                  GROUP BY a.key, a.value->>'payment_count'
                  HAVING COUNT(p.key) <> (a.value->>'payment_count')::bigint`,
		},
		{
			Name: "O3_rent_paid_matches_count",
			SQL: `SELECT key FROM ledger_entries
                  WHERE key LIKE 'agreement/%' AND value IS NOT NULL
                    AND (value->>'total_rent_paid')::bigint
                        <> (value->>'payment_count')::bigint * (value->>'monthly_rent')::bigint`,
		},
		{
			Name: "O4_settlement_sums_to_amount",
			SQL: `SELECT key FROM ledger_entries
                  WHERE key LIKE 'escrow/%' AND value->>'status' IN ('released','refunded')
                    AND (value->'settlement' IS NULL
                         OR (value->'settlement'->>'to_beneficiary')::bigint
                          + (value->'settlement'->>'to_depositor')::bigint
                            <> (value->>'amount')::bigint)`,
		},
		{
			Name: "O5_custody_matches_status",
			SQL: `SELECT e.key, e.value->>'status', b.value
                  FROM ledger_entries e
                  LEFT JOIN ledger_entries b
                    ON b.key = 'balance/' || (e.value->>'token') || '/custody:' || split_part(e.key, '/', 2)
                  WHERE e.key LIKE 'escrow/%' AND e.value IS NOT NULL
                    AND COALESCE((b.value #>> '{}')::bigint, 0) <>
                        CASE WHEN e.value->>'status' IN ('funded','disputed')
                             THEN (e.value->>'amount')::bigint ELSE 0 END`,
		},
		{
			Name: "O6_votes_cleared_after_settlement",
			SQL: `SELECT a.key FROM ledger_entries a
                  JOIN ledger_entries e ON e.key = 'escrow/' || split_part(a.key, '/', 2)
                  WHERE a.key LIKE 'approval/%'
                    AND jsonb_typeof(a.value->'votes') = 'object'
                    AND a.value->'votes' <> '{}'::jsonb
                    AND e.value->>'status' IN ('released','refunded','disputed')`,
		},
		{
			Name: "O7_outbox_drained",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
