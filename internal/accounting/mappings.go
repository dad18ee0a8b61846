package accounting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mapping links one (transaction type, side) key to a ledger account. The
// table is static configuration; the engine only ever reads it.
type Mapping struct {
	TxType      string
	Side        Side
	GLAccountID uuid.UUID
	GLCode      string
	Note        string
}

// MappingSet is the in-memory lookup table loaded at startup.
type MappingSet struct {
	byKey map[string]map[Side]Mapping
}

// Lookup resolves the mapping for a type and side.
func (s *MappingSet) Lookup(txType string, side Side) (Mapping, error) {
	if s == nil {
		return Mapping{}, ErrMissingMapping
	}
	if m, ok := s.byKey[txType][side]; ok {
		return m, nil
	}
	return Mapping{}, fmt.Errorf("%w: %s/%s", ErrMissingMapping, txType, side)
}

// ValidateSet verifies both sides exist for every required type. Run at
// boot so a configuration gap fails startup instead of a posting request.
func (s *MappingSet) ValidateSet(required []string) error {
	for _, t := range required {
		for _, side := range []Side{SideDebit, SideCredit} {
			if _, err := s.Lookup(t, side); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewMappingSet builds a set from rows, last row winning per key.
func NewMappingSet(rows []Mapping) *MappingSet {
	set := &MappingSet{byKey: make(map[string]map[Side]Mapping)}
	for _, m := range rows {
		if set.byKey[m.TxType] == nil {
			set.byKey[m.TxType] = make(map[Side]Mapping)
		}
		set.byKey[m.TxType][m.Side] = m
	}
	return set
}

// LoadMappings reads the account_mappings table joined to gl_accounts.
func LoadMappings(ctx context.Context, pool *pgxpool.Pool) (*MappingSet, error) {
	rows, err := pool.Query(ctx, `SELECT m.tx_type, m.side, m.gl_account_id, a.code, m.note
FROM account_mappings m
JOIN gl_accounts a ON a.id = m.gl_account_id`)
	if err != nil {
		return nil, fmt.Errorf("accounting: load mappings: %w", err)
	}
	defer rows.Close()
	var all []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.TxType, &m.Side, &m.GLAccountID, &m.GLCode, &m.Note); err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewMappingSet(all), nil
}
