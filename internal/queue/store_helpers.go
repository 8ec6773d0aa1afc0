package queue

import (
	"database/sql"
	"strings"
	"time"
)

const jobColumns = "id, created_at, updated_at, status, progress, input_key, spec_json, output_key, error_message, claimed_by, lease_until"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id         string
		createdMs  int64
		updatedMs  int64
		statusStr  string
		progress   float64
		inputKey   string
		specJSON   string
		outputKey  sql.NullString
		errMessage sql.NullString
		claimedBy  sql.NullString
		leaseUntil sql.NullInt64
	)

	if err := scanner.Scan(
		&id,
		&createdMs,
		&updatedMs,
		&statusStr,
		&progress,
		&inputKey,
		&specJSON,
		&outputKey,
		&errMessage,
		&claimedBy,
		&leaseUntil,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        id,
		Status:    Status(statusStr),
		Progress:  progress,
		CreatedAt: fromMillis(createdMs),
		UpdatedAt: fromMillis(updatedMs),
		InputKey:  inputKey,
		SpecJSON:  specJSON,
		OutputKey: outputKey.String,
		Error:     errMessage.String,
		ClaimedBy: claimedBy.String,
	}
	if leaseUntil.Valid {
		lease := fromMillis(leaseUntil.Int64)
		job.LeaseUntil = &lease
	}
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableStatus(value *Status) any {
	if value == nil {
		return nil
	}
	return string(*value)
}

func nullableProgress(value *float64) any {
	if value == nil {
		return nil
	}
	return ClampProgress(*value)
}

// ToMillis converts a timestamp to the persisted epoch-millisecond form.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func terminalStatusArgs() []any {
	return []any{string(StatusDone), string(StatusError)}
}
