package preview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// ExpireAfter is how long a picture waits for the rest of its preview.
	ExpireAfter = 10 * time.Second
	// TrackLength is the number of body pictures one camera must hold
	// before a preview is built.
	TrackLength = 6
)

type lines [Cameras][]*Picture

// Cache collects pictures per object until a preview can be built: a face
// picture, at least one body picture from every camera and TrackLength body
// pictures from one camera.
type Cache struct {
	mu     sync.Mutex
	faces  map[uint32]*Picture
	bodies map[uint32]*lines
	store  *Store
	log    zerolog.Logger
	now    func() time.Time
}

// NewCache creates a cache that hands finished previews to store.
func NewCache(store *Store, log zerolog.Logger) *Cache {
	return &Cache{
		faces:  make(map[uint32]*Picture),
		bodies: make(map[uint32]*lines),
		store:  store,
		log:    log,
		now:    time.Now,
	}
}

// Add caches p, drops expired pictures and stores every preview that has
// become complete. It returns the previews created.
func (c *Cache) Add(ctx context.Context, p *Picture) ([]Preview, error) {
	c.mu.Lock()
	now := c.now()
	p.received = now
	c.expire(now)
	if p.Type == Face {
		c.faces[p.Object] = p
	} else {
		l, ok := c.bodies[p.Object]
		if !ok {
			l = &lines{}
			c.bodies[p.Object] = l
		}
		l[p.Camera] = append(l[p.Camera], p)
	}
	ready := c.collect()
	c.mu.Unlock()

	var created []Preview
	for _, views := range ready {
		snaps, tracks, err := encodeViews(views)
		if err != nil {
			return created, err
		}
		pv, err := c.store.Create(ctx, snaps, tracks)
		if err != nil {
			return created, err
		}
		created = append(created, pv)
	}
	return created, nil
}

func (c *Cache) expire(now time.Time) {
	expired := func(p *Picture) bool {
		return now.Sub(p.received) > ExpireAfter
	}

	for id, l := range c.bodies {
		empty := true
		for cam := range l {
			kept := l[cam][:0]
			for _, p := range l[cam] {
				if !expired(p) {
					kept = append(kept, p)
				}
			}
			l[cam] = kept
			if len(kept) > 0 {
				empty = false
			}
		}
		if empty {
			delete(c.bodies, id)
		}
	}
	for id, p := range c.faces {
		if expired(p) {
			delete(c.faces, id)
		}
	}
}

// previewViews is the picture set of one preview: snaps are the face and
// the head of every camera line, tracks the pictures of the full line.
type previewViews struct {
	object uint32
	snaps  []*Picture
	tracks []*Picture
}

// collect removes and returns the objects whose preview is complete.
func (c *Cache) collect() []previewViews {
	var ready []previewViews
	for id, face := range c.faces {
		l, ok := c.bodies[id]
		if !ok {
			continue
		}
		complete := true
		for cam := range l {
			if len(l[cam]) == 0 {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		for cam := range l {
			if len(l[cam]) < TrackLength {
				continue
			}
			snaps := []*Picture{face}
			for head := range l {
				snaps = append(snaps, l[head][0])
			}
			ready = append(ready, previewViews{
				object: id,
				snaps:  snaps,
				tracks: append([]*Picture(nil), l[cam][:TrackLength]...),
			})
			delete(c.faces, id)
			delete(c.bodies, id)
			c.log.Debug().Uint32("object", id).Int("camera", cam).Msg("preview complete")
			break
		}
	}
	return ready
}

func encodeViews(v previewViews) (snaps, tracks [][]byte, err error) {
	encode := func(pics []*Picture) ([][]byte, error) {
		out := make([][]byte, 0, len(pics))
		for _, p := range pics {
			data, err := p.encode()
			if err != nil {
				return nil, fmt.Errorf("encode picture of object %d: %w", v.object, err)
			}
			out = append(out, data)
		}
		return out, nil
	}

	if snaps, err = encode(v.snaps); err != nil {
		return nil, nil, err
	}
	if tracks, err = encode(v.tracks); err != nil {
		return nil, nil, err
	}
	return snaps, tracks, nil
}

// Len returns the number of objects with cached pictures.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make(map[uint32]struct{}, len(c.faces)+len(c.bodies))
	for id := range c.faces {
		ids[id] = struct{}{}
	}
	for id := range c.bodies {
		ids[id] = struct{}{}
	}
	return len(ids)
}
