// Package redis implements store.Store on Redis. Each entry is a hash and
// each patient has a sorted set of entry ids scored by expiry. Consume and
// refund run as Lua scripts, so each is atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/xraph/pkgledger"
	"github.com/xraph/pkgledger/entry"
	"github.com/xraph/pkgledger/id"
	pkgstore "github.com/xraph/pkgledger/store"
	"github.com/xraph/pkgledger/types"
)

// DefaultPrefix namespaces all keys written by the store.
const DefaultPrefix = "pkgledger:"

// compile-time interface check
var _ pkgstore.Store = (*Store)(nil)

// Store implements store.Store using go-redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New wraps a connected client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL and connects.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("pkgledger/redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("pkgledger/redis: ping: %w", err)
	}
	return New(client, opts...), nil
}

// Client returns the underlying client for direct access.
func (s *Store) Client() redis.UniversalClient { return s.client }

// entryKey holds the entry hash.
func (s *Store) entryKey(entryID string) string { return s.prefix + "entry:" + entryID }

// patientKey holds the patient's entry ids scored by expiry.
func (s *Store) patientKey(patientID string) string { return s.prefix + "patient:" + patientID }

// Migrate is a no-op; Redis needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks server connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ==================== Entry Store ====================

func (s *Store) CreateEntry(ctx context.Context, e *entry.Entry) error {
	args := append([]any{e.ID.String(), score(e.ExpiresAt)}, entryFields(e)...)
	code, err := createScript.Run(ctx, s.client,
		[]string{s.entryKey(e.ID.String()), s.patientKey(e.PatientID)},
		args...,
	).Int()
	if err != nil {
		return fmt.Errorf("pkgledger/redis: create entry: %w", err)
	}
	if code == codeExists {
		return pkgledger.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, patientID string, entryID id.EntryID) (*entry.Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.entryKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("pkgledger/redis: get entry: %w", err)
	}
	if len(fields) == 0 || fields["patient_id"] != patientID {
		return nil, pkgledger.ErrEntryNotFound
	}
	return fromHash(fields)
}

func (s *Store) ListEntries(ctx context.Context, patientID string, opts entry.ListOpts) ([]*entry.Entry, error) {
	ids, err := s.client.ZRange(ctx, s.patientKey(patientID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("pkgledger/redis: list entries: %w", err)
	}
	if len(ids) == 0 {
		return []*entry.Entry{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, entryID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.entryKey(entryID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("pkgledger/redis: list entries: %w", err)
	}

	result := make([]*entry.Entry, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		e, err := fromHash(fields)
		if err != nil {
			return nil, err
		}
		if opts.Match(e) {
			result = append(result, e)
		}
	}

	// Apply limit/offset
	start := min(opts.Offset, len(result))
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) ConsumeEntry(ctx context.Context, patientID string, entryID id.EntryID, at time.Time) (*entry.Entry, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.entryKey(entryID.String())},
		patientID, nanos(at), nanos(at),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("pkgledger/redis: consume entry: %w", err)
	}

	code, fields, err := parseReply(res)
	if err != nil {
		return nil, fmt.Errorf("pkgledger/redis: consume entry: %w", err)
	}
	switch code {
	case codeOK:
		return fromHash(fields)
	case codeNotFound:
		return nil, pkgledger.ErrEntryNotFound
	case codeExpired:
		return nil, pkgledger.ErrEntryExpired
	case codeExhausted:
		return nil, pkgledger.ErrEntryExhausted
	default:
		return nil, fmt.Errorf("pkgledger/redis: consume entry: unexpected status %d", code)
	}
}

func (s *Store) RefundEntry(ctx context.Context, patientID string, entryID id.EntryID, at time.Time) (*entry.Entry, bool, error) {
	res, err := refundScript.Run(ctx, s.client,
		[]string{s.entryKey(entryID.String())},
		patientID, nanos(at),
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("pkgledger/redis: refund entry: %w", err)
	}

	code, fields, err := parseReply(res)
	if err != nil {
		return nil, false, fmt.Errorf("pkgledger/redis: refund entry: %w", err)
	}
	switch code {
	case codeOK, codeClamped:
		e, err := fromHash(fields)
		return e, code == codeClamped, err
	case codeNotFound:
		return nil, false, pkgledger.ErrEntryNotFound
	default:
		return nil, false, fmt.Errorf("pkgledger/redis: refund entry: unexpected status %d", code)
	}
}

// ==================== Encoding ====================

func nanos(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

// score orders the patient index; millisecond precision is enough there.
func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func entryFields(e *entry.Entry) []any {
	return []any{
		"id", e.ID.String(),
		"patient_id", e.PatientID,
		"offering_id", e.OfferingID,
		"name", e.Name,
		"total_uses", e.TotalUses,
		"remaining_uses", e.RemainingUses,
		"purchased_at", nanos(e.PurchasedAt),
		"expires_at", nanos(e.ExpiresAt),
		"created_at", nanos(e.CreatedAt),
		"updated_at", nanos(e.UpdatedAt),
	}
}

func fromHash(f map[string]string) (*entry.Entry, error) {
	entryID, err := id.ParseEntryID(f["id"])
	if err != nil {
		return nil, err
	}

	var ints [2]int
	for i, k := range []string{"total_uses", "remaining_uses"} {
		if ints[i], err = strconv.Atoi(f[k]); err != nil {
			return nil, fmt.Errorf("pkgledger/redis: field %s: %w", k, err)
		}
	}
	var times [4]time.Time
	for i, k := range []string{"purchased_at", "expires_at", "created_at", "updated_at"} {
		n, err := strconv.ParseInt(f[k], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pkgledger/redis: field %s: %w", k, err)
		}
		times[i] = time.Unix(0, n).UTC()
	}

	return &entry.Entry{
		Entity:        types.Entity{CreatedAt: times[2], UpdatedAt: times[3]},
		ID:            entryID,
		PatientID:     f["patient_id"],
		OfferingID:    f["offering_id"],
		Name:          f["name"],
		TotalUses:     ints[0],
		RemainingUses: ints[1],
		PurchasedAt:   times[0],
		ExpiresAt:     times[1],
	}, nil
}

// parseReply decodes a {code, {field, value, ...}} script reply.
func parseReply(res []any) (int64, map[string]string, error) {
	if len(res) == 0 {
		return 0, nil, errors.New("empty script reply")
	}
	code, ok := res[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected status type %T", res[0])
	}
	if len(res) < 2 {
		return code, nil, nil
	}

	flat, ok := res[1].([]any)
	if !ok || len(flat)%2 != 0 {
		return 0, nil, errors.New("malformed hash in script reply")
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return code, fields, nil
}
