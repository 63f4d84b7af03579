package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"VaultLedger/internal/record"
)

// RecordWriter writes committed records to Postgres using multi-row INSERT.
// ON CONFLICT DO NOTHING makes replays idempotent: the sequence number is
// the primary key, so a retried batch cannot double-insert.
type RecordWriter struct {
	db *sql.DB
}

// RecordRow is one row of vault.records. Native amounts are stored as
// NUMERIC(78,0) decimal strings; the full record is kept as JSONB payload
// alongside the indexed columns.
type RecordRow struct {
	Sequence     int64
	RecordID     string
	RecordType   string
	UserID       string
	Asset        string
	NativeAmount string
	USDAmount    int64
	Payload      []byte
	Timestamp    string
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

// ToRow flattens a record for storage.
func ToRow(rec record.Record) (RecordRow, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return RecordRow{}, fmt.Errorf("marshal record %d: %w", rec.Sequence, err)
	}

	native := rec.NativeAmount
	if native == "" {
		native = "0"
	}

	return RecordRow{
		Sequence:     rec.Sequence,
		RecordID:     rec.RecordID.String(),
		RecordType:   rec.Type.String(),
		UserID:       rec.User.String(),
		Asset:        rec.Asset,
		NativeAmount: native,
		USDAmount:    rec.USDAmount,
		Payload:      payload,
		Timestamp:    rec.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
	}, nil
}

// WriteBatch inserts rows within the given transaction.
func (w *RecordWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []RecordRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault.records
		(sequence, record_id, record_type, user_id, asset, native_amount, usd_amount, payload, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*9)

	for i, r := range rows {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			r.Sequence, r.RecordID, r.RecordType, r.UserID,
			r.Asset, r.NativeAmount, r.USDAmount, r.Payload, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
