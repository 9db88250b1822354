package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const opColumns = "id, token, op, args, output_case, outcome, seq, sale_id, operator_id"

// Ops returns all journaled ops with deterministic ordering:
// ORDER BY seq ASC, id COLLATE BINARY ASC.
//
// Returns an empty slice (not nil) when the journal is empty.
func (j *Journal) Ops(ctx context.Context) ([]OpRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+opColumns+`
		FROM ops
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	return collectOps(rows)
}

// OpsForToken returns the ops recorded under one op token, in
// deterministic order.
func (j *Journal) OpsForToken(ctx context.Context, token string) ([]OpRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+opColumns+`
		FROM ops
		WHERE token = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query ops for token: %w", err)
	}
	defer rows.Close()

	return collectOps(rows)
}

// OpsForSale returns the ops that touched one sale, in deterministic
// order.
func (j *Journal) OpsForSale(ctx context.Context, saleID int64) ([]OpRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+opColumns+`
		FROM ops
		WHERE sale_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("query ops for sale: %w", err)
	}
	defer rows.Close()

	return collectOps(rows)
}

// Op retrieves a single op by content-addressed ID.
// Returns sql.ErrNoRows if not found.
func (j *Journal) Op(ctx context.Context, id string) (OpRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT `+opColumns+`
		FROM ops
		WHERE id = ?
	`, id)

	var rec OpRecord
	var args, outcome string
	if err := row.Scan(
		&rec.ID, &rec.Token, &rec.Op, &args, &rec.OutputCase,
		&outcome, &rec.Seq, &rec.SaleID, &rec.OperatorID,
	); err != nil {
		return OpRecord{}, err
	}
	rec.Args = json.RawMessage(args)
	rec.Outcome = json.RawMessage(outcome)
	return rec, nil
}

// LastSnapshot returns the most recent session snapshot by logical seq.
// found is false when no snapshot has been recorded yet.
func (j *Journal) LastSnapshot(ctx context.Context) (rec SnapshotRecord, found bool, err error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT seq, op_id, state, sale_id, session, hash
		FROM snapshots
		ORDER BY seq DESC
		LIMIT 1
	`)

	var session string
	err = row.Scan(&rec.Seq, &rec.OpID, &rec.State, &rec.SaleID, &session, &rec.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, fmt.Errorf("read last snapshot: %w", err)
	}
	rec.Session = json.RawMessage(session)
	return rec, true, nil
}

// LastSeq returns the highest logical clock value in the journal, zero
// when empty. The engine resumes its op clock from this value.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM ops
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq, nil
}

// collectOps scans all rows into op records, returning an empty slice
// instead of nil.
func collectOps(rows *sql.Rows) ([]OpRecord, error) {
	var ops []OpRecord
	for rows.Next() {
		var rec OpRecord
		var args, outcome string
		if err := rows.Scan(
			&rec.ID, &rec.Token, &rec.Op, &args, &rec.OutputCase,
			&outcome, &rec.Seq, &rec.SaleID, &rec.OperatorID,
		); err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		rec.Args = json.RawMessage(args)
		rec.Outcome = json.RawMessage(outcome)
		ops = append(ops, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}

	if ops == nil {
		ops = []OpRecord{}
	}

	return ops, nil
}
