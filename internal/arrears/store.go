package arrears

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

const (
	snapshotKeyPrefix = "arrears:snapshot:"
	latestSnapshotKey = snapshotKeyPrefix + "latest"
)

// Store keeps computed arrears snapshots in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewStore constructs a snapshot store. A non-positive ttl keeps snapshots forever.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, now: time.Now}
}

// Save stores summary under a fresh id and marks it latest.
func (s *Store) Save(ctx context.Context, days int, summary Summary) (Snapshot, error) {
	if s == nil || s.client == nil {
		return Snapshot{}, errors.New("arrears: snapshot store not configured")
	}
	snap := Snapshot{ID: uuid.NewString(), Days: days, Summary: summary, SavedAt: s.now().UTC()}
	payload, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, err
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKeyPrefix+snap.ID, payload, ttl)
		pipe.Set(ctx, latestSnapshotKey, payload, ttl)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("arrears: save snapshot: %w", err)
	}
	return snap, nil
}

// Latest returns the most recently saved snapshot.
func (s *Store) Latest(ctx context.Context) (Snapshot, error) {
	return s.load(ctx, latestSnapshotKey)
}

// Get returns a snapshot by id.
func (s *Store) Get(ctx context.Context, id string) (Snapshot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Snapshot{}, shared.Invalid("id", "must be a uuid")
	}
	return s.load(ctx, snapshotKeyPrefix+id)
}

func (s *Store) load(ctx context.Context, key string) (Snapshot, error) {
	if s == nil || s.client == nil {
		return Snapshot{}, fmt.Errorf("arrears snapshot: %w", shared.ErrNotFound)
	}
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("arrears snapshot: %w", shared.ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("arrears: decode snapshot: %w", err)
	}
	return snap, nil
}
