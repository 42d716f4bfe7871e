package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/taskgraph/pkg/api"
)

// RedisStore is a Store backed by Redis.
// It uses a simple key structure:
//
//	<prefix>def:<id>:<version>     => JSON definition
//	<prefix>defversions:<id>       => LIST of versions in registration order
//	<prefix>run:<id>               => HASH {body, version, status}
//	<prefix>cancel:<id>            => "1" once cancellation was requested
//	<prefix>idx:runs               => ZSET of run IDs scored by creation time
//	<prefix>approval:<id>          => HASH {body, decision}
//	<prefix>idx:approvals:pending  => SET of pending approval IDs
//
// SaveRun uses WATCH/MULTI on the run hash, so a concurrent writer makes the
// transaction fail with ErrVersionConflict.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "taskgraph:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "taskgraph:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore) keyDefinition(id, version string) string {
	return r.prefix + "def:" + id + ":" + version
}

func (r *RedisStore) keyDefinitionVersions(id string) string {
	return r.prefix + "defversions:" + id
}

func (r *RedisStore) keyRun(id string) string {
	return r.prefix + "run:" + id
}

func (r *RedisStore) keyCancel(id string) string {
	return r.prefix + "cancel:" + id
}

func (r *RedisStore) keyRuns() string {
	return r.prefix + "idx:runs"
}

func (r *RedisStore) keyApproval(id string) string {
	return r.prefix + "approval:" + id
}

func (r *RedisStore) keyPendingApprovals() string {
	return r.prefix + "idx:approvals:pending"
}

func (r *RedisStore) SaveDefinition(ctx context.Context, def api.WorkflowDefinition) error {
	def.Version = versionOf(def)
	body, err := encodeDefinition(def)
	if err != nil {
		return err
	}
	created, err := r.client.SetNX(ctx, r.keyDefinition(def.ID, def.Version), body, 0).Result()
	if err != nil {
		return err
	}
	if created {
		return r.client.RPush(ctx, r.keyDefinitionVersions(def.ID), def.Version).Err()
	}
	return nil
}

func (r *RedisStore) GetDefinition(ctx context.Context, id, version string) (api.WorkflowDefinition, error) {
	if version == "" {
		latest, err := r.client.LIndex(ctx, r.keyDefinitionVersions(id), -1).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return api.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
			}
			return api.WorkflowDefinition{}, err
		}
		version = latest
	}
	data, err := r.client.Get(ctx, r.keyDefinition(id, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return api.WorkflowDefinition{}, fmt.Errorf("%w: %s@%s", ErrDefinitionNotFound, id, version)
		}
		return api.WorkflowDefinition{}, err
	}
	return decodeDefinition(data)
}

func (r *RedisStore) ListDefinitionVersions(ctx context.Context, id string) ([]string, error) {
	return r.client.LRange(ctx, r.keyDefinitionVersions(id), 0, -1).Result()
}

func (r *RedisStore) CreateRun(ctx context.Context, run *api.WorkflowRun) error {
	run.Version = 1
	body, err := encodeRun(run)
	if err != nil {
		return err
	}
	key := r.keyRun(run.ID)
	created, err := r.client.HSetNX(ctx, key, "body", body).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("run %q already exists", run.ID)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "version", run.Version, "status", string(run.Status))
	pipe.ZAdd(ctx, r.keyRuns(), redis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: run.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) LoadRun(ctx context.Context, id string) (*api.WorkflowRun, error) {
	data, err := r.client.HGet(ctx, r.keyRun(id), "body").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return decodeRun(data)
}

func (r *RedisStore) SaveRun(ctx context.Context, run *api.WorkflowRun) error {
	key := r.keyRun(run.ID)
	expected := run.Version

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrRunNotFound
			}
			return err
		}
		if cur != expected {
			return ErrVersionConflict
		}

		run.Version = expected + 1
		body, err := encodeRun(run)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "body", body, "version", run.Version, "status", string(run.Status))
			return nil
		})
		return err
	}, key)

	if err != nil {
		run.Version = expected
		if errors.Is(err, redis.TxFailedErr) {
			return ErrVersionConflict
		}
		return err
	}
	return nil
}

func (r *RedisStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.WorkflowRun, error) {
	ids, err := r.client.ZRange(ctx, r.keyRuns(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.WorkflowRun{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, r.keyRun(id), "body")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var runs []*api.WorkflowRun
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		run, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		if filter.match(run) {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (r *RedisStore) RequestCancel(ctx context.Context, id string) error {
	exists, err := r.client.Exists(ctx, r.keyRun(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrRunNotFound
	}
	return r.client.Set(ctx, r.keyCancel(id), "1", 0).Err()
}

func (r *RedisStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.keyCancel(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisStore) CreateApproval(ctx context.Context, req *api.ApprovalRequest) error {
	body, err := encodeApproval(req)
	if err != nil {
		return err
	}
	key := r.keyApproval(req.ID)
	created, err := r.client.HSetNX(ctx, key, "body", body).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("approval %q already exists", req.ID)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "decision", string(req.Decision))
	if !req.Decision.Resolved() {
		pipe.SAdd(ctx, r.keyPendingApprovals(), req.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetApproval(ctx context.Context, id string) (*api.ApprovalRequest, error) {
	data, err := r.client.HGet(ctx, r.keyApproval(id), "body").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	return decodeApproval(data)
}

// redisDecideLua records a decision only while the request is pending.
// Returns -1 if the request is missing, 0 if already decided, 1 if recorded.
var redisDecideLua = redis.NewScript(`
local d = redis.call('HGET', KEYS[1], 'decision')
if not d then
	return -1
end
if d ~= 'pending' then
	return 0
end
redis.call('HSET', KEYS[1], 'decision', ARGV[1], 'body', ARGV[2])
redis.call('SREM', KEYS[2], ARGV[3])
return 1
`)

func (r *RedisStore) DecideApproval(ctx context.Context, id string, res api.ApprovalResolution) (*api.ApprovalRequest, bool, error) {
	req, err := r.GetApproval(ctx, id)
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
	n, err := redisDecideLua.Run(ctx, r.client,
		[]string{r.keyApproval(id), r.keyPendingApprovals()},
		string(req.Decision), body, id,
	).Int64()
	if err != nil {
		return nil, false, err
	}
	switch n {
	case -1:
		return nil, false, ErrApprovalNotFound
	case 0:
		current, err := r.GetApproval(ctx, id)
		return current, false, err
	}
	return req, true, nil
}

func (r *RedisStore) ListPendingApprovals(ctx context.Context) ([]*api.ApprovalRequest, error) {
	ids, err := r.client.SMembers(ctx, r.keyPendingApprovals()).Result()
	if err != nil {
		return nil, err
	}
	var out []*api.ApprovalRequest
	for _, id := range ids {
		req, err := r.GetApproval(ctx, id)
		if err != nil {
			if errors.Is(err, ErrApprovalNotFound) {
				continue
			}
			return nil, err
		}
		if !req.Decision.Resolved() {
			out = append(out, req)
		}
	}
	sortApprovals(out)
	return out, nil
}
