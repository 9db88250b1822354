package journal

import (
	"context"
	"fmt"
)

// AppendOp inserts an op record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - the op ID is
// content-addressed, so a crash-replayed append of the same mutation is
// silently ignored. Returns whether a new row was inserted.
//
// Other constraint violations (e.g., NOT NULL) still return errors.
func (j *Journal) AppendOp(ctx context.Context, rec OpRecord) (inserted bool, err error) {
	result, err := j.db.ExecContext(ctx, `
		INSERT INTO ops
		(id, token, op, args, output_case, outcome, seq, sale_id, operator_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Token,
		rec.Op,
		string(rec.Args),
		rec.OutputCase,
		string(rec.Outcome),
		rec.Seq,
		rec.SaleID,
		rec.OperatorID,
	)
	if err != nil {
		return false, fmt.Errorf("append op: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append op: rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// AppendSnapshot inserts a session snapshot.
// ON CONFLICT DO NOTHING handles both:
//  1. Duplicate seq (same logical instant written twice)
//  2. Duplicate op_id (second snapshot for the same op)
//
// Both are silently ignored for idempotency. Returns whether a new row
// was inserted.
//
// Note: the op referenced by OpID must exist (foreign key constraint).
func (j *Journal) AppendSnapshot(ctx context.Context, rec SnapshotRecord) (inserted bool, err error) {
	result, err := j.db.ExecContext(ctx, `
		INSERT INTO snapshots
		(seq, op_id, state, sale_id, session, hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		rec.Seq,
		rec.OpID,
		rec.State,
		rec.SaleID,
		string(rec.Session),
		rec.Hash,
	)
	if err != nil {
		return false, fmt.Errorf("append snapshot: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append snapshot: rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
