package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/run"
)

const (
	// DefaultKeyPrefix namespaces run keys when none is configured.
	DefaultKeyPrefix = "fanout"
	// DefaultTxRetries bounds WATCH retries for one append or finalize.
	DefaultTxRetries = 100
)

// RunStore is a run.Store kept in Redis.
type RunStore struct {
	client  *Client
	runs    *TypedStore[run.Run]
	prefix  string
	retries int
	now     func() time.Time
}

var _ run.Store = (*RunStore)(nil)

// NewRunStore returns a store writing under prefix.
func NewRunStore(client *Client, prefix string) *RunStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	retries := DefaultTxRetries
	if client != nil && client.cfg.TxRetries > 0 {
		retries = client.cfg.TxRetries
	}
	return &RunStore{
		client:  client,
		runs:    NewTypedStore[run.Run](client, prefix+":run"),
		prefix:  prefix,
		retries: retries,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *RunStore) allKey() string        { return s.prefix + ":runs:all" }
func (s *RunStore) inProgressKey() string { return s.prefix + ":runs:in_progress" }
func (s *RunStore) ownerKey(owner string) string {
	return s.prefix + ":runs:owner:" + owner
}

// score orders sorted-set members. Microseconds stay exact in a float64.
func score(t time.Time) float64 { return float64(t.UnixMicro()) }

// Create implements run.Store.
func (s *RunStore) Create(ctx context.Context, r *run.Run) error {
	if r == nil || r.ID == "" {
		return apperrors.InvalidInput("run", "run with an id is required")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return apperrors.Persistence("create run", err)
	}

	key := s.runs.Key(r.ID)
	rdb := s.client.Unwrap()
	err = rdb.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return apperrors.Persistence("create run", fmt.Errorf("run %s already exists", r.ID))
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			created := goredis.Z{Score: score(r.CreatedAt), Member: r.ID}
			p.ZAdd(ctx, s.allKey(), created)
			if r.OwnerID != "" {
				p.ZAdd(ctx, s.ownerKey(r.OwnerID), created)
			}
			if !r.Status.IsTerminal() {
				p.ZAdd(ctx, s.inProgressKey(), goredis.Z{Score: score(r.StartedAt), Member: r.ID})
			}
			return nil
		})
		return err
	}, key)
	return translate(err, "create run", r.ID)
}

// AppendOutcome implements run.Store.
func (s *RunStore) AppendOutcome(ctx context.Context, id string, o run.Outcome) error {
	_, err := s.update(ctx, id, "append outcome", func(r *run.Run) error {
		return r.Append(o, s.now())
	})
	return err
}

// Finalize implements run.Store.
func (s *RunStore) Finalize(ctx context.Context, id string, totalSources int, completedAt time.Time) (*run.Run, error) {
	return s.update(ctx, id, "finalize run", func(r *run.Run) error {
		return r.Finalize(totalSources, completedAt.UTC())
	})
}

// update applies fn to the stored run inside a WATCH/MULTI transaction,
// retrying when another writer touched the run first.
func (s *RunStore) update(ctx context.Context, id, op string, fn func(r *run.Run) error) (*run.Run, error) {
	key := s.runs.Key(id)
	rdb := s.client.Unwrap()

	for attempt := 0; attempt < s.retries; attempt++ {
		var out *run.Run
		err := rdb.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var r run.Run
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("decode run %s: %w", id, err)
			}
			normalize(&r)
			if err := fn(&r); err != nil {
				return err
			}
			data, err := json.Marshal(&r)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				p.Set(ctx, key, data, 0)
				if r.Status.IsTerminal() {
					p.ZRem(ctx, s.inProgressKey(), id)
				}
				return nil
			})
			if err == nil {
				out = &r
			}
			return err
		}, key)

		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, translate(err, op, id)
		}
		return out, nil
	}
	return nil, apperrors.Persistence(op, fmt.Errorf("run %s: gave up after %d conflicting transactions", id, s.retries))
}

// Get implements run.Store.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Run, error) {
	r, err := s.runs.Load(ctx, id)
	if err != nil {
		return nil, translate(err, "get run", id)
	}
	if r == nil {
		return nil, apperrors.NotFound("run", id)
	}
	normalize(r)
	return r, nil
}

// ListByOwner implements run.Store.
func (s *RunStore) ListByOwner(ctx context.Context, ownerID string, page, size int) ([]*run.Run, int64, error) {
	page, size = run.NormalizePage(page, size)
	index := s.allKey()
	if ownerID != "" {
		index = s.ownerKey(ownerID)
	}

	rdb := s.client.Unwrap()
	total, err := rdb.ZCard(ctx, index).Result()
	if err != nil {
		return nil, 0, translate(err, "count runs", "")
	}

	start := int64(run.Offset(page, size))
	ids, err := rdb.ZRevRange(ctx, index, start, start+int64(size)-1).Result()
	if err != nil {
		return nil, 0, translate(err, "list runs", "")
	}
	runs, err := s.runs.LoadMany(ctx, ids...)
	if err != nil {
		return nil, 0, translate(err, "list runs", "")
	}
	for _, r := range runs {
		normalize(r)
	}
	return runs, total, nil
}

// ListStale implements run.Store.
func (s *RunStore) ListStale(ctx context.Context, olderThan time.Time) ([]*run.Run, error) {
	ids, err := s.client.Unwrap().ZRangeByScore(ctx, s.inProgressKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return nil, translate(err, "list stale runs", "")
	}
	loaded, err := s.runs.LoadMany(ctx, ids...)
	if err != nil {
		return nil, translate(err, "list stale runs", "")
	}

	stale := make([]*run.Run, 0, len(loaded))
	for _, r := range loaded {
		if r.Status == run.StatusInProgress {
			normalize(r)
			stale = append(stale, r)
		}
	}
	return stale, nil
}

// normalize turns outcome payloads decoded from JSON null back into nil.
func normalize(r *run.Run) {
	for i := range r.Outcomes {
		if string(r.Outcomes[i].Data) == "null" {
			r.Outcomes[i].Data = nil
		}
	}
}

func translate(err error, op, id string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, goredis.Nil) {
		return apperrors.NotFound("run", id)
	}
	return apperrors.Persistence(op, err)
}
