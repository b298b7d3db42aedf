// Package store publishes batch reports to Redis so that past batches can be
// listed and inspected after the process exits.
//
// Layout:
//
//	NCBULK_BATCHES             sorted set of batch IDs scored by generation time
//	NCBULK_BATCH|<id>          hash: operation, kind, generated_at, counts
//	NCBULK_RESULT|<id>|<n>     hash per outcome, n is the report row index
//
// Every key carries the configured TTL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/ncbulk/pkg/bulk"
	"github.com/newtron-network/ncbulk/pkg/util"
)

const (
	batchIndexKey = "NCBULK_BATCHES"
	batchTable    = "NCBULK_BATCH"
	resultTable   = "NCBULK_RESULT"

	// DefaultTTL is how long batches are kept when Options.TTL is unset.
	DefaultTTL = 7 * 24 * time.Hour
)

// ErrNotFound is returned when a batch does not exist or has expired.
var ErrNotFound = errors.New("batch not found")

// Options configure the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Store reads and writes batch reports.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// BatchInfo is the stored header of one batch.
type BatchInfo struct {
	ID          string
	Operation   string
	Kind        string
	GeneratedAt time.Time
	Summary     bulk.Summary
}

// New returns a Store; no connection is made until first use.
func New(opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		ttl: ttl,
	}
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func batchKey(id string) string {
	return fmt.Sprintf("%s|%s", batchTable, id)
}

func resultKey(id string, n int) string {
	return fmt.Sprintf("%s|%s|%d", resultTable, id, n)
}

// SaveReport writes r in one MULTI/EXEC transaction. r.ID must be set.
func (s *Store) SaveReport(ctx context.Context, r *bulk.Report) error {
	if r.ID == "" {
		return fmt.Errorf("store: report has no ID")
	}

	pipe := s.client.TxPipeline()

	bk := batchKey(r.ID)
	pipe.HSet(ctx, bk, batchFields(r)...)
	pipe.Expire(ctx, bk, s.ttl)

	for n, o := range r.Results {
		rk := resultKey(r.ID, n)
		pipe.HSet(ctx, rk, resultFields(o)...)
		pipe.Expire(ctx, rk, s.ttl)
	}

	pipe.ZAdd(ctx, batchIndexKey, &redis.Z{
		Score:  float64(r.GeneratedAt.UnixMilli()),
		Member: r.ID,
	})
	pipe.Expire(ctx, batchIndexKey, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("store: save batch %s: %w", r.ID, err)
	}
	util.WithBatch(r.ID, opName(r)).Debugf("stored %d results in redis", len(r.Results))
	return nil
}

// ListBatches returns up to limit batches, newest first. Index entries whose
// batch has expired are removed.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]BatchInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.client.ZRevRange(ctx, batchIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list batches: %w", err)
	}

	var batches []BatchInfo
	for _, id := range ids {
		info, err := s.batchInfo(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, batchIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, *info)
	}
	return batches, nil
}

// LoadBatch returns a batch header and its outcomes in report order.
// Payloads are not stored.
func (s *Store) LoadBatch(ctx context.Context, id string) (*BatchInfo, []bulk.Outcome, error) {
	info, err := s.batchInfo(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, info.Summary.Total)
	for n := range cmds {
		cmds[n] = pipe.HGetAll(ctx, resultKey(id, n))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, fmt.Errorf("store: load batch %s: %w", id, err)
	}

	outcomes := make([]bulk.Outcome, 0, len(cmds))
	for n, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			return nil, nil, fmt.Errorf("store: batch %s result %d: %w", id, n, ErrNotFound)
		}
		o, err := parseResult(vals)
		if err != nil {
			return nil, nil, fmt.Errorf("store: batch %s result %d: %w", id, n, err)
		}
		outcomes = append(outcomes, o)
	}
	return info, outcomes, nil
}

func (s *Store) batchInfo(ctx context.Context, id string) (*BatchInfo, error) {
	vals, err := s.client.HGetAll(ctx, batchKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: read batch %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return parseBatch(id, vals)
}

func opName(r *bulk.Report) string {
	if r.Operation == nil {
		return ""
	}
	return r.Operation.String()
}

func batchFields(r *bulk.Report) []interface{} {
	kind := ""
	if r.Operation != nil {
		kind = string(r.Operation.Kind)
	}
	return []interface{}{
		"operation", opName(r),
		"kind", kind,
		"generated_at", r.GeneratedAt.UTC().Format(time.RFC3339Nano),
		"total", r.Summary.Total,
		"succeeded", r.Summary.Succeeded,
		"failed", r.Summary.Failed,
	}
}

func parseBatch(id string, vals map[string]string) (*BatchInfo, error) {
	info := &BatchInfo{ID: id, Operation: vals["operation"], Kind: vals["kind"]}

	var err error
	if info.GeneratedAt, err = time.Parse(time.RFC3339Nano, vals["generated_at"]); err != nil {
		return nil, fmt.Errorf("store: batch %s: generated_at: %w", id, err)
	}
	counts := []struct {
		field string
		dst   *int
	}{
		{"total", &info.Summary.Total},
		{"succeeded", &info.Summary.Succeeded},
		{"failed", &info.Summary.Failed},
	}
	for _, c := range counts {
		if *c.dst, err = strconv.Atoi(vals[c.field]); err != nil {
			return nil, fmt.Errorf("store: batch %s: %s: %w", id, c.field, err)
		}
	}
	return info, nil
}

func resultFields(o bulk.Outcome) []interface{} {
	return []interface{}{
		"device", o.Device,
		"succeeded", strconv.FormatBool(o.Succeeded),
		"category", string(o.Category),
		"reason", o.Reason,
		"duration", o.Duration.String(),
	}
}

func parseResult(vals map[string]string) (bulk.Outcome, error) {
	o := bulk.Outcome{
		Device:   vals["device"],
		Category: bulk.FailureCategory(vals["category"]),
		Reason:   vals["reason"],
	}
	var err error
	if o.Succeeded, err = strconv.ParseBool(vals["succeeded"]); err != nil {
		return o, fmt.Errorf("succeeded: %w", err)
	}
	if o.Duration, err = time.ParseDuration(vals["duration"]); err != nil {
		return o, fmt.Errorf("duration: %w", err)
	}
	return o, nil
}

// Publisher saves reports and logs, rather than returns, failures: losing the
// history of a batch never fails the batch.
type Publisher struct {
	Store   *Store
	Timeout time.Duration
}

// Publish saves r within p.Timeout (5s by default).
func (p *Publisher) Publish(ctx context.Context, r *bulk.Report) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.Store.SaveReport(ctx, r); err != nil {
		util.WithBatch(r.ID, opName(r)).Warnf("batch not published: %v", err)
	}
}
