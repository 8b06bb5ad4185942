// Package fs provides a filesystem backed transport. Each ordered pair of
// ranks owns a spool directory; envelopes travel as JSON files claimed by the
// receiver in filename order. Group members may live in separate processes as
// long as they share the base URL.
package fs

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrafieir/mpi-fanout/extension"
	"github.com/mrafieir/mpi-fanout/internal/idgen"
	"github.com/mrafieir/mpi-fanout/rank"
	"github.com/mrafieir/mpi-fanout/service/transport"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
)

const (
	pendingDir    = "pending"
	processingDir = "processing"
	invalidDir    = "invalid"
)

// Config holds filesystem transport settings
type Config struct {
	// BaseURL is the spool root shared by every group member.
	BaseURL string

	// PollInterval is how long a receiver sleeps between empty spool sweeps.
	PollInterval time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:      "/tmp/fanout/spool",
		PollInterval: 20 * time.Millisecond,
	}
}

// Transport is a filesystem backed message layer. FIFO per ordered pair is
// preserved by a zero padded per pair sequence prefix on every spool file.
type Transport struct {
	fs     afs.Service
	config Config
	size   int
	codec  *codec
	seq    []uint64
	sweep  uint64
	mu     sync.Mutex
	closed int32
}

// New creates a filesystem transport for a group of the given size. The types
// registry controls payload and result output decoding; nil falls back to
// generic JSON.
func New(fs afs.Service, size int, config Config, types *extension.Types) (*Transport, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid group size: %d", size)
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if fs == nil {
		fs = afs.New()
	}
	t := &Transport{
		fs:     fs,
		config: config,
		size:   size,
		codec:  newCodec(types),
		seq:    make([]uint64, size*size),
	}
	ctx := context.Background()
	for from := 0; from < size; from++ {
		for to := 0; to < size; to++ {
			if from == to {
				continue
			}
			for _, state := range []string{pendingDir, processingDir} {
				dir := t.stateURL(from, to, state)
				exists, _ := fs.Exists(ctx, dir)
				if !exists {
					if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
						return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
					}
				}
			}
		}
	}
	return t, nil
}

// Ranks returns the group size.
func (t *Transport) Ranks() int {
	return t.size
}

// Send serialises the envelope and drops it into the pair's pending spool.
func (t *Transport) Send(ctx context.Context, from, to int, env transport.Envelope) error {
	if atomic.LoadInt32(&t.closed) == 1 {
		return transport.ErrClosed
	}
	if err := t.validRank(from); err != nil {
		return err
	}
	if err := t.validRank(to); err != nil {
		return err
	}
	data, err := t.codec.encode(env)
	if err != nil {
		return err
	}
	seq := atomic.AddUint64(&t.seq[from*t.size+to], 1)
	name := fmt.Sprintf("%012d-%s.json", seq, idgen.New())
	dest := path.Join(t.stateURL(from, to, pendingDir), name)
	if err := t.fs.Upload(ctx, dest, file.DefaultFileOsMode, bytes.NewBuffer(data)); err != nil {
		return fmt.Errorf("failed to spool envelope %s: %w", dest, err)
	}
	return nil
}

// Receive polls the pair's pending spool until an envelope can be claimed.
// With from set to transport.AnyRank every peer spool is swept in rotating
// order so no sender is starved.
func (t *Transport) Receive(ctx context.Context, from, to int) (transport.Envelope, int, error) {
	if err := t.validRank(to); err != nil {
		return transport.Envelope{}, 0, err
	}
	if from != transport.AnyRank {
		if err := t.validRank(from); err != nil {
			return transport.Envelope{}, 0, err
		}
	}
	for {
		if atomic.LoadInt32(&t.closed) == 1 {
			return transport.Envelope{}, 0, transport.ErrClosed
		}
		var env transport.Envelope
		var sender int
		var found bool
		var err error
		if from != transport.AnyRank {
			env, found, err = t.claim(ctx, from, to)
			sender = from
		} else {
			env, sender, found, err = t.claimAny(ctx, to)
		}
		if err != nil {
			return transport.Envelope{}, 0, err
		}
		if found {
			return env, sender, nil
		}
		select {
		case <-ctx.Done():
			return transport.Envelope{}, 0, ctx.Err()
		case <-time.After(t.config.PollInterval):
		}
	}
}

// claimAny sweeps every peer spool once, starting at a rotating offset.
func (t *Transport) claimAny(ctx context.Context, to int) (transport.Envelope, int, bool, error) {
	start := int(atomic.AddUint64(&t.sweep, 1)) % t.size
	for i := 0; i < t.size; i++ {
		from := (start + i) % t.size
		if from == to {
			continue
		}
		env, found, err := t.claim(ctx, from, to)
		if err != nil {
			return transport.Envelope{}, 0, false, err
		}
		if found {
			return env, from, true, nil
		}
	}
	return transport.Envelope{}, 0, false, nil
}

// claim takes the oldest pending envelope of one pair, moving it through the
// processing state before decoding and deleting it.
func (t *Transport) claim(ctx context.Context, from, to int) (transport.Envelope, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := t.stateURL(from, to, pendingDir)
	objects, err := t.fs.List(ctx, pending, option.NewRecursive(false))
	if err != nil {
		return transport.Envelope{}, false, fmt.Errorf("failed to list %s: %w", pending, err)
	}
	var files []storage.Object
	for _, object := range objects {
		if !object.IsDir() && strings.HasSuffix(object.Name(), ".json") {
			files = append(files, object)
		}
	}
	if len(files) == 0 {
		return transport.Envelope{}, false, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	object := files[0]

	processing := path.Join(t.stateURL(from, to, processingDir), object.Name())
	if err := t.fs.Move(ctx, object.URL(), processing); err != nil {
		return transport.Envelope{}, false, fmt.Errorf("failed to claim %s: %w", object.URL(), err)
	}
	data, err := t.fs.DownloadWithURL(ctx, processing)
	if err != nil {
		return transport.Envelope{}, false, fmt.Errorf("failed to read %s: %w", processing, err)
	}
	env, err := t.codec.decode(data)
	if err != nil {
		dest := path.Join(t.stateURL(from, to, invalidDir), object.Name())
		_ = t.fs.Move(ctx, processing, dest)
		return transport.Envelope{}, false, err
	}
	if err := t.fs.Delete(ctx, processing); err != nil {
		return transport.Envelope{}, false, fmt.Errorf("failed to delete %s: %w", processing, err)
	}
	return env, true, nil
}

// Close marks the transport closed; subsequent sends and receives fail with
// ErrClosed. Spool files already on disk are left in place.
func (t *Transport) Close() {
	atomic.StoreInt32(&t.closed, 1)
}

func (t *Transport) stateURL(from, to int, state string) string {
	return path.Join(t.config.BaseURL, fmt.Sprintf("rank-%d", to), fmt.Sprintf("from-%d", from), state)
}

func (t *Transport) validRank(r int) error {
	if r < 0 || r >= t.size {
		return transport.RankError(r, t.size)
	}
	return nil
}

// NewGroup creates one shared filesystem transport and returns a rank context
// per member, master first. Separate processes should instead call New with
// their own rank and the same base URL.
func NewGroup(size int, config Config, types *extension.Types) ([]*rank.Context, error) {
	tr, err := New(nil, size, config, types)
	if err != nil {
		return nil, err
	}
	group := make([]*rank.Context, size)
	for i := 0; i < size; i++ {
		if group[i], err = rank.New(i, size, tr); err != nil {
			return nil, err
		}
	}
	return group, nil
}
