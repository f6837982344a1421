package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
)

// jobRow is the sqlx scan target for the jobs table; nested domain structs
// round-trip through JSONB columns the way item-shaped
// persistence structs mirror their domain counterparts one field at a time.
type jobRow struct {
	ID          string          `db:"id"`
	State       string          `db:"state"`
	Owner       string          `db:"owner"`
	Ontology    string          `db:"ontology"`
	ContentHash string          `db:"content_hash"`
	Payload     json.RawMessage `db:"payload"`
	Analysis    json.RawMessage `db:"analysis"`
	Progress    json.RawMessage `db:"progress"`
	Result      json.RawMessage `db:"result"`
	Error       json.RawMessage `db:"error"`
	AutoApprove bool            `db:"auto_approve"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func toJobRow(j domain.Job) (jobRow, error) {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return jobRow{}, err
	}
	progress, err := json.Marshal(j.Progress)
	if err != nil {
		return jobRow{}, err
	}
	row := jobRow{
		ID:          j.ID, State: string(j.State), Owner: j.Owner, Ontology: j.Ontology,
		ContentHash: j.Payload.ContentHash, Payload: payload, Progress: progress,
		AutoApprove: j.AutoApprove, CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
	if j.Analysis != nil {
		if row.Analysis, err = json.Marshal(j.Analysis); err != nil {
			return jobRow{}, err
		}
	}
	if j.Result != nil {
		if row.Result, err = json.Marshal(j.Result); err != nil {
			return jobRow{}, err
		}
	}
	if j.Error != nil {
		if row.Error, err = json.Marshal(j.Error); err != nil {
			return jobRow{}, err
		}
	}
	return row, nil
}

func (r jobRow) toDomain() (domain.Job, error) {
	j := domain.Job{
		ID:          r.ID, State: domain.JobState(r.State), Owner: r.Owner, Ontology: r.Ontology,
		AutoApprove: r.AutoApprove, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Payload, &j.Payload); err != nil {
		return domain.Job{}, err
	}
	if err := json.Unmarshal(r.Progress, &j.Progress); err != nil {
		return domain.Job{}, err
	}
	if len(r.Analysis) > 0 {
		var a domain.Analysis
		if err := json.Unmarshal(r.Analysis, &a); err != nil {
			return domain.Job{}, err
		}
		j.Analysis = &a
	}
	if len(r.Result) > 0 {
		var res domain.JobResult
		if err := json.Unmarshal(r.Result, &res); err != nil {
			return domain.Job{}, err
		}
		j.Result = &res
	}
	if len(r.Error) > 0 {
		var e domain.JobError
		if err := json.Unmarshal(r.Error, &e); err != nil {
			return domain.Job{}, err
		}
		j.Error = &e
	}
	return j, nil
}

// InsertJob implements jobqueue.Store.
func (s *Store) InsertJob(ctx context.Context, job domain.Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return kgerrors.Wrap(err, "marshal job")
	}
	_, err = s.db.NamedExecContext(ctx, `
INSERT INTO jobs (id, state, owner, ontology, content_hash, payload, analysis, progress, result, error, auto_approve, created_at, updated_at)
VALUES (:id, :state, :owner, :ontology, :content_hash, :payload, :analysis, :progress, :result, :error, :auto_approve, :created_at, :updated_at)
`, row)
	if err != nil {
		return kgerrors.StoreUnavailable("insert job", err)
	}
	return nil
}

// GetJob implements jobqueue.Store.
func (s *Store) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, kgerrors.NotFound("job not found: " + id)
	}
	if err != nil {
		return domain.Job{}, kgerrors.StoreUnavailable("get job", err)
	}
	job, err := row.toDomain()
	if err != nil {
		return domain.Job{}, kgerrors.Wrap(err, "unmarshal job row")
	}
	return job, nil
}

// ListJobs implements jobqueue.Store, applying owner/
// ontology/state/time-range filter.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	var conds []string
	args := map[string]any{}
	if filter.Owner != "" {
		conds = append(conds, "owner = :owner")
		args["owner"] = filter.Owner
	}
	if filter.Ontology != "" {
		conds = append(conds, "ontology = :ontology")
		args["ontology"] = filter.Ontology
	}
	if filter.State != "" {
		conds = append(conds, "state = :state")
		args["state"] = string(filter.State)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "created_at >= :from")
		args["from"] = filter.From
	}
	if !filter.To.IsZero() {
		conds = append(conds, "created_at <= :to")
		args["to"] = filter.To
	}

	query := "SELECT * FROM jobs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"

	named, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, kgerrors.Wrap(err, "prepare list jobs query")
	}
	defer named.Close()
	var rows []jobRow
	if err := named.SelectContext(ctx, &rows, args); err != nil {
		return nil, kgerrors.StoreUnavailable("list jobs", err)
	}
	jobs := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.toDomain()
		if err != nil {
			return nil, kgerrors.Wrap(err, "unmarshal job row")
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// UpdateJob implements jobqueue.Store, overwriting the full row.
func (s *Store) UpdateJob(ctx context.Context, job domain.Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return kgerrors.Wrap(err, "marshal job")
	}
	res, err := s.db.NamedExecContext(ctx, `
UPDATE jobs SET state=:state, owner=:owner, ontology=:ontology, content_hash=:content_hash,
 payload=:payload, analysis=:analysis, progress=:progress, result=:result, error=:error,
 auto_approve=:auto_approve, updated_at=:updated_at
WHERE id=:id
`, row)
	if err != nil {
		return kgerrors.StoreUnavailable("update job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kgerrors.NotFound("job not found: " + job.ID)
	}
	return nil
}

// FindActiveJobByPayload implements jobqueue.Store's duplicate-detection
// lookup: a job with the same (content_hash, ontology) that has not yet
// reached a terminal state.
func (s *Store) FindActiveJobByPayload(ctx context.Context, contentHash, ontology string) (domain.Job, bool, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
SELECT * FROM jobs
WHERE content_hash = $1 AND ontology = $2
 AND state NOT IN ('completed', 'failed', 'cancelled')
ORDER BY created_at ASC LIMIT 1
`, contentHash, ontology)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, kgerrors.StoreUnavailable("find active job by payload", err)
	}
	job, err := row.toDomain()
	if err != nil {
		return domain.Job{}, false, kgerrors.Wrap(err, "unmarshal job row")
	}
	return job, true, nil
}

// DeleteJob implements jobqueue.Store.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return kgerrors.StoreUnavailable("delete job", err)
	}
	return nil
}

// DeleteTerminalJobsOlderThan implements the Scheduler's periodic retention
// sweep ("Cleanup"), returning the number of jobs removed.
func (s *Store) DeleteTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM jobs WHERE state IN ('completed', 'failed', 'cancelled') AND updated_at < $1
`, cutoff)
	if err != nil {
		return 0, kgerrors.StoreUnavailable("delete terminal jobs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
