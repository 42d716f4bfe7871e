package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/petrijr/taskgraph/pkg/api"
)

// sqlDialect captures the few differences between the SQL backends.
type sqlDialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of '?'
	numbered bool
	// column used to order rows by insertion
	seqColumn string
	schema    []string
}

// sqlStore implements Store on database/sql. Run, definition and approval
// bodies are JSON documents; the indexed columns duplicate the fields used
// for filtering and compare-and-swap.
type sqlStore struct {
	db      *sql.DB
	dialect sqlDialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d sqlDialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: init schema: %w", d.name, err)
		}
	}
	return s, nil
}

// q rewrites '?' placeholders for dialects that number them.
func (s *sqlStore) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) SaveDefinition(ctx context.Context, def api.WorkflowDefinition) error {
	def.Version = versionOf(def)
	body, err := encodeDefinition(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO taskgraph_definitions (id, version, fingerprint, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id, version) DO NOTHING`),
		def.ID, def.Version, api.DefinitionFingerprint(def), body,
	)
	return err
}

func (s *sqlStore) GetDefinition(ctx context.Context, id, version string) (api.WorkflowDefinition, error) {
	var row *sql.Row
	if version == "" {
		row = s.db.QueryRowContext(ctx, s.q(`
			SELECT body FROM taskgraph_definitions
			WHERE id = ?
			ORDER BY `+s.dialect.seqColumn+` DESC
			LIMIT 1`), id)
	} else {
		row = s.db.QueryRowContext(ctx, s.q(`
			SELECT body FROM taskgraph_definitions
			WHERE id = ? AND version = ?`), id, version)
	}

	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
		}
		return api.WorkflowDefinition{}, err
	}
	return decodeDefinition(body)
}

func (s *sqlStore) ListDefinitionVersions(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT version FROM taskgraph_definitions
		WHERE id = ?
		ORDER BY `+s.dialect.seqColumn), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateRun(ctx context.Context, run *api.WorkflowRun) error {
	run.Version = 1
	body, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO taskgraph_runs (id, definition_id, status, version, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?)`),
		run.ID, run.DefinitionID, string(run.Status), run.Version, run.CreatedAt.UnixNano(), body,
	)
	return err
}

func (s *sqlStore) LoadRun(ctx context.Context, id string) (*api.WorkflowRun, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT body FROM taskgraph_runs WHERE id = ?`), id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return decodeRun(body)
}

func (s *sqlStore) SaveRun(ctx context.Context, run *api.WorkflowRun) error {
	expected := run.Version
	run.Version = expected + 1
	body, err := encodeRun(run)
	if err != nil {
		run.Version = expected
		return err
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE taskgraph_runs
		SET status = ?, version = ?, body = ?
		WHERE id = ? AND version = ?`),
		string(run.Status), run.Version, body, run.ID, expected,
	)
	if err != nil {
		run.Version = expected
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		run.Version = expected
		return err
	}
	if affected == 0 {
		run.Version = expected
		var one int
		err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM taskgraph_runs WHERE id = ?`), run.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *sqlStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.WorkflowRun, error) {
	query := `SELECT body FROM taskgraph_runs`
	var args []any
	var clauses []string

	if filter.DefinitionID != "" {
		clauses = append(clauses, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.WorkflowRun
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		run, err := decodeRun(body)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *sqlStore) RequestCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE taskgraph_runs SET cancel_requested = 1 WHERE id = ?`), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *sqlStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT cancel_requested FROM taskgraph_runs WHERE id = ?`), id).Scan(&flag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrRunNotFound
		}
		return false, err
	}
	return flag != 0, nil
}

func (s *sqlStore) CreateApproval(ctx context.Context, req *api.ApprovalRequest) error {
	body, err := encodeApproval(req)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO taskgraph_approvals (id, run_id, task_id, decision, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?)`),
		req.ID, req.RunID, req.TaskID, string(req.Decision), req.CreatedAt.UnixNano(), body,
	)
	return err
}

func (s *sqlStore) GetApproval(ctx context.Context, id string) (*api.ApprovalRequest, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT body FROM taskgraph_approvals WHERE id = ?`), id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	return decodeApproval(body)
}

func (s *sqlStore) DecideApproval(ctx context.Context, id string, res api.ApprovalResolution) (*api.ApprovalRequest, bool, error) {
	req, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if req.Decision.Resolved() {
		return req, false, nil
	}

	applyDecision(req, res)
	body, err := encodeApproval(req)
	if err != nil {
		return nil, false, err
	}
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE taskgraph_approvals
		SET decision = ?, body = ?
		WHERE id = ? AND decision = ?`),
		string(req.Decision), body, id, string(api.DecisionPending),
	)
	if err != nil {
		return nil, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		// Lost the race; report whatever won.
		current, err := s.GetApproval(ctx, id)
		return current, false, err
	}
	return req, true, nil
}

func (s *sqlStore) ListPendingApprovals(ctx context.Context) ([]*api.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT body FROM taskgraph_approvals
		WHERE decision = ?
		ORDER BY created_at, id`), string(api.DecisionPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*api.ApprovalRequest
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		req, err := decodeApproval(body)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
