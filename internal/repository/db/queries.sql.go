package db

import "context"

const listLogs = `-- name: ListLogs :many
SELECT id, chip_id, ts, payload, created_at
FROM chip_logs
ORDER BY id
`

func (q *Queries) ListLogs(ctx context.Context) ([]ChipLog, error) {
	rows, err := q.db.Query(ctx, listLogs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ChipLog
	for rows.Next() {
		var l ChipLog
		if err := rows.Scan(&l.ID, &l.ChipID, &l.Ts, &l.Payload, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const getLog = `-- name: GetLog :one
SELECT id, chip_id, ts, payload, created_at
FROM chip_logs
WHERE chip_id = $1 AND ts = $2
`

type GetLogParams struct {
	ChipID string
	Ts     int64
}

func (q *Queries) GetLog(ctx context.Context, arg GetLogParams) (ChipLog, error) {
	var l ChipLog
	err := q.db.QueryRow(ctx, getLog, arg.ChipID, arg.Ts).Scan(&l.ID, &l.ChipID, &l.Ts, &l.Payload, &l.CreatedAt)
	return l, err
}

const upsertLog = `-- name: UpsertLog :exec
INSERT INTO chip_logs (chip_id, ts, payload)
VALUES ($1, $2, $3)
ON CONFLICT (chip_id, ts) DO UPDATE SET payload = EXCLUDED.payload
`

type UpsertLogParams struct {
	ChipID  string
	Ts      int64
	Payload []byte
}

func (q *Queries) UpsertLog(ctx context.Context, arg UpsertLogParams) error {
	_, err := q.db.Exec(ctx, upsertLog, arg.ChipID, arg.Ts, arg.Payload)
	return err
}

const deleteLog = `-- name: DeleteLog :execrows
DELETE FROM chip_logs WHERE chip_id = $1 AND ts = $2
`

type DeleteLogParams struct {
	ChipID string
	Ts     int64
}

func (q *Queries) DeleteLog(ctx context.Context, arg DeleteLogParams) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteLog, arg.ChipID, arg.Ts)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listNames = `-- name: ListNames :many
SELECT chip_id, name, updated_at
FROM chip_names
ORDER BY chip_id
`

func (q *Queries) ListNames(ctx context.Context) ([]ChipName, error) {
	rows, err := q.db.Query(ctx, listNames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []ChipName
	for rows.Next() {
		var n ChipName
		if err := rows.Scan(&n.ChipID, &n.Name, &n.UpdatedAt); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

const getName = `-- name: GetName :one
SELECT chip_id, name, updated_at
FROM chip_names
WHERE lower(chip_id) = lower($1)
ORDER BY updated_at DESC
LIMIT 1
`

func (q *Queries) GetName(ctx context.Context, chipID string) (ChipName, error) {
	var n ChipName
	err := q.db.QueryRow(ctx, getName, chipID).Scan(&n.ChipID, &n.Name, &n.UpdatedAt)
	return n, err
}

const upsertName = `-- name: UpsertName :exec
INSERT INTO chip_names (chip_id, name, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (chip_id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
`

type UpsertNameParams struct {
	ChipID string
	Name   string
}

func (q *Queries) UpsertName(ctx context.Context, arg UpsertNameParams) error {
	_, err := q.db.Exec(ctx, upsertName, arg.ChipID, arg.Name)
	return err
}
