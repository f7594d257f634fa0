package pg

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"netsync/internal/domain/models"
	"netsync/internal/domain/ports"
)

var changeLogColumns = []string{"run_id", "kind", "device", "key", "action", "status", "error", "fields"}

// ChangeLog stores the audit trail in PostgreSQL
type ChangeLog struct {
	conn *ConnectionManager
}

var _ ports.ChangeLog = (*ChangeLog)(nil)

// NewChangeLog creates a change log over an already connected manager
func NewChangeLog(conn *ConnectionManager) *ChangeLog {
	return &ChangeLog{conn: conn}
}

// Append implements ports.ChangeLog. The run row and its changes commit together.
func (l *ChangeLog) Append(ctx context.Context, runID string, changes []models.Change) error {
	if len(changes) == 0 {
		return nil
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return errors.Wrapf(err, "invalid run id %q", runID)
	}

	rows := make([][]any, 0, len(changes))
	for _, c := range changes {
		fields := c.Fields
		if fields == nil {
			fields = []models.FieldChange{}
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return errors.Wrapf(err, "failed to encode fields of %s %s", c.Kind, c.Key)
		}
		rows = append(rows, []any{
			id, string(c.Kind), c.Device, c.Key, string(c.Action), string(c.Status), c.Error, string(raw),
		})
	}

	return l.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+TblSyncRun.Qualified()+` (run_id) VALUES ($1) ON CONFLICT (run_id) DO NOTHING`, id); err != nil {
			return errors.Wrap(err, "failed to register run")
		}
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{SchemaName, TblChangeLog.String()},
			changeLogColumns,
			pgx.CopyFromRows(rows))
		if err != nil {
			return errors.Wrap(err, "failed to copy changes")
		}
		if int(n) != len(rows) {
			return errors.Errorf("copied %d of %d changes", n, len(rows))
		}
		return nil
	})
}

// Entries returns the changes recorded for runID in append order
func (l *ChangeLog) Entries(ctx context.Context, runID string) ([]models.Change, error) {
	pool := l.conn.Pool()
	if pool == nil {
		return nil, errors.New("connection pool not initialized")
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid run id %q", runID)
	}

	rows, err := pool.Query(ctx, `
		SELECT kind, device, key, action, status, error, fields
		FROM `+TblChangeLog.Qualified()+`
		WHERE run_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query changes")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Change, error) {
		var (
			c                            models.Change
			kind, action, status, fields string
		)
		if err := row.Scan(&kind, &c.Device, &c.Key, &action, &status, &c.Error, &fields); err != nil {
			return c, err
		}
		c.Kind = models.EntityKind(kind)
		c.Action = models.Action(action)
		c.Status = models.ChangeStatus(status)
		if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
			return c, err
		}
		if len(c.Fields) == 0 {
			c.Fields = nil
		}
		return c, nil
	})
	return out, errors.Wrap(err, "failed to scan changes")
}

// Close implements ports.ChangeLog
func (l *ChangeLog) Close() error {
	return l.conn.Close()
}
