package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStaleReport is returned by SetSalesReport when the period was invalidated after the report
// generation was read. The report is not cached.
var ErrStaleReport = errors.New("sales report invalidated while computing")

// Cache wraps the keys this service owns. A nil *Cache (no Redis configured) misses on every read
// and ignores writes.
type Cache struct {
	RDB       *redis.Client
	ReportTTL time.Duration
}

func NewCache(rdb *redis.Client, reportTTL time.Duration) *Cache {
	if reportTTL <= 0 {
		reportTTL = TTLReportCache
	}
	return &Cache{RDB: rdb, ReportTTL: reportTTL}
}

func SalesReportKey(year, month int) string { return fmt.Sprintf(KeySalesReport, year, month) }

func salesReportGenKey(year, month int) string { return fmt.Sprintf(KeySalesReportGen, year, month) }

func (c *Cache) GetSalesReport(ctx context.Context, year, month int) ([]byte, bool, error) {
	return c.get(ctx, SalesReportKey(year, month))
}

// SalesReportGen returns the invalidation counter of a period. Read it before computing a report
// and pass it to SetSalesReport.
func (c *Cache) SalesReportGen(ctx context.Context, year, month int) (int64, error) {
	if c == nil {
		return 0, nil
	}
	n, err := c.RDB.Get(ctx, salesReportGenKey(year, month)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// SetSalesReport caches body only if the period's generation still equals gen.
func (c *Cache) SetSalesReport(ctx context.Context, year, month int, gen int64, body []byte) error {
	if c == nil {
		return nil
	}
	genKey := salesReportGenKey(year, month)
	err := c.RDB.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return ErrStaleReport
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, SalesReportKey(year, month), body, c.ReportTTL)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleReport
	}
	return err
}

// InvalidateSalesReport drops the cached report and bumps the period's generation so a report
// computed before this call cannot be stored afterwards.
func (c *Cache) InvalidateSalesReport(ctx context.Context, year, month int) error {
	if c == nil {
		return nil
	}
	_, err := c.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, salesReportGenKey(year, month))
		p.Del(ctx, SalesReportKey(year, month))
		return nil
	})
	return err
}

type IdemState int

const (
	// IdemReserved: the caller owns the key and must Complete or Release it.
	IdemReserved IdemState = iota
	// IdemInFlight: another request with the same key has not finished yet.
	IdemInFlight
	// IdemDone: a stored response is returned for replay.
	IdemDone
	// IdemMismatch: the key was used with a different request.
	IdemMismatch
)

type idemRecord struct {
	State       string          `json:"state"`
	Fingerprint string          `json:"fingerprint"`
	Body        json.RawMessage `json:"body,omitempty"`
}

const (
	idemPending = "pending"
	idemDone    = "done"
)

// ReserveIdempotent claims key for the request identified by fingerprint. With a nil Cache every
// call is IdemReserved.
func (c *Cache) ReserveIdempotent(ctx context.Context, key, fingerprint string) (IdemState, []byte, error) {
	if c == nil {
		return IdemReserved, nil, nil
	}
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	pending, _ := json.Marshal(idemRecord{State: idemPending, Fingerprint: fingerprint})
	ok, err := c.RDB.SetNX(ctx, k, pending, TTLIdemPending).Result()
	if err != nil {
		return 0, nil, err
	}
	if ok {
		return IdemReserved, nil, nil
	}

	raw, found, err := c.get(ctx, k)
	if err != nil {
		return 0, nil, err
	}
	if !found {
		// released between SETNX and GET; the client may retry
		return IdemInFlight, nil, nil
	}
	var rec idemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0, nil, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	switch {
	case rec.Fingerprint != fingerprint:
		return IdemMismatch, nil, nil
	case rec.State == idemDone:
		return IdemDone, rec.Body, nil
	default:
		return IdemInFlight, nil, nil
	}
}

// CompleteIdempotent stores the response of a reserved key for replay.
func (c *Cache) CompleteIdempotent(ctx context.Context, key, fingerprint string, body []byte) error {
	if c == nil {
		return nil
	}
	rec, err := json.Marshal(idemRecord{State: idemDone, Fingerprint: fingerprint, Body: body})
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), rec, TTLIdempotency).Err()
}

// ReleaseIdempotent frees a reserved key after a failed request.
func (c *Cache) ReleaseIdempotent(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	return c.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Err()
}

// Seen reports whether service already processed the event id.
func (c *Cache) Seen(ctx context.Context, service, id string) (bool, error) {
	if c == nil {
		return false, nil
	}
	n, err := c.RDB.Exists(ctx, fmt.Sprintf(KeyDedup, service, id)).Result()
	return n > 0, err
}

func (c *Cache) MarkSeen(ctx context.Context, service, id string) error {
	if c == nil {
		return nil
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Err()
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	b, err := c.RDB.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
