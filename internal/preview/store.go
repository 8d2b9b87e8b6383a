package preview

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// View kinds of a preview.
const (
	KindSnaps  = "snaps"
	KindTracks = "tracks"
)

const (
	// DefaultLimit is the number of previews kept before the oldest is evicted.
	DefaultLimit = 30
	// ListLimit is the number of previews one List call returns.
	ListLimit = 10
)

// ErrNotFound is returned for an unknown preview or view.
var ErrNotFound = errors.New("preview not found")

// Preview is the listing entry of one stored preview.
type Preview struct {
	UUID      string `json:"uuid"`
	Timestamp int64  `json:"timestamp"`
}

type entry struct {
	Preview
	snaps  int
	tracks int
}

// Store keeps the most recent previews, newest first. Their pictures live
// in a BlobStore under "<uuid>/<kind>/<index>".
type Store struct {
	mu      sync.Mutex
	limit   int
	order   []string
	entries map[string]*entry
	blobs   BlobStore
	log     zerolog.Logger
	now     func() time.Time
}

// NewStore creates a store keeping at most limit previews.
func NewStore(blobs BlobStore, limit int, log zerolog.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit:   limit,
		entries: make(map[string]*entry),
		blobs:   blobs,
		log:     log,
		now:     time.Now,
	}
}

func blobKey(id, kind string, index int) string {
	return id + "/" + kind + "/" + strconv.Itoa(index)
}

// Create stores a preview made of snaps and tracks and returns it. When
// the store is full the oldest preview and its blobs are removed.
func (s *Store) Create(ctx context.Context, snaps, tracks [][]byte) (Preview, error) {
	e := &entry{
		Preview: Preview{UUID: uuid.NewString(), Timestamp: s.now().Unix()},
		snaps:   len(snaps),
		tracks:  len(tracks),
	}

	var written []string
	for kind, views := range map[string][][]byte{KindSnaps: snaps, KindTracks: tracks} {
		for i, data := range views {
			key := blobKey(e.UUID, kind, i)
			if err := s.blobs.Put(ctx, key, data); err != nil {
				s.deleteKeys(ctx, written)
				return Preview{}, fmt.Errorf("store preview %s: %w", e.UUID, err)
			}
			written = append(written, key)
		}
	}

	s.mu.Lock()
	s.entries[e.UUID] = e
	s.order = append([]string{e.UUID}, s.order...)
	var evicted []*entry
	for len(s.order) > s.limit {
		last := s.order[len(s.order)-1]
		s.order = s.order[:len(s.order)-1]
		evicted = append(evicted, s.entries[last])
		delete(s.entries, last)
	}
	s.mu.Unlock()

	for _, old := range evicted {
		s.deleteKeys(ctx, old.keys())
	}
	s.log.Info().Str("preview", e.UUID).Int("evicted", len(evicted)).Msg("preview created")
	return e.Preview, nil
}

func (e *entry) keys() []string {
	keys := make([]string, 0, e.snaps+e.tracks)
	for i := 0; i < e.snaps; i++ {
		keys = append(keys, blobKey(e.UUID, KindSnaps, i))
	}
	for i := 0; i < e.tracks; i++ {
		keys = append(keys, blobKey(e.UUID, KindTracks, i))
	}
	return keys
}

func (s *Store) deleteKeys(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("delete preview picture failed")
		}
	}
}

// List returns up to limit previews, newest first, stopping before the
// preview prev. An empty prev lists from the newest.
func (s *Store) List(prev string, limit int) []Preview {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Preview, 0, min(limit, len(s.order)))
	for _, id := range s.order {
		if id == prev || (limit > 0 && len(out) >= limit) {
			break
		}
		out = append(out, s.entries[id].Preview)
	}
	return out
}

// Len returns the number of stored previews.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// View returns the encoded picture at index of the given kind.
func (s *Store) View(ctx context.Context, id, kind string, index int) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	n := e.snaps
	if kind == KindTracks {
		n = e.tracks
	} else if kind != KindSnaps {
		return nil, fmt.Errorf("%w: kind %q", ErrNotFound, kind)
	}
	if index < 0 || index >= n {
		return nil, fmt.Errorf("%w: %s/%s/%d", ErrNotFound, id, kind, index)
	}

	data, err := s.blobs.Get(ctx, blobKey(id, kind, index))
	if errors.Is(err, ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: %s/%s/%d", ErrNotFound, id, kind, index)
	}
	return data, err
}
