package blockstream

import (
	"fmt"
	"time"
)

// config holds per-session writer configuration
type config struct {
	ChunkSize        uint64
	FlushSize        uint64
	MaxOutstanding   uint64
	ChecksumType     ChecksumType
	BytesPerChecksum int
	WatchTimeout     time.Duration
	Tags             map[string]string
	SyncPolicy       func(position uint64) bool
}

// Option configures a BlockWriter
type Option interface {
	apply(*config)
}

// funcOpt wraps a function as an Option
type funcOpt func(*config)

func (f funcOpt) apply(c *config) {
	f(c)
}

// WithChunkSize sets the per-chunk buffer size callers are expected to
// write in (default: 4 MiB). The flush size must be an exact multiple
// of this value.
func WithChunkSize(n uint64) Option {
	return funcOpt(func(c *config) {
		c.ChunkSize = n
	})
}

// WithFlushSize sets how many written bytes accumulate before the
// writer issues a metadata commit (default: 16 MiB). Must be an exact
// multiple of the chunk size.
func WithFlushSize(n uint64) Option {
	return funcOpt(func(c *config) {
		c.FlushSize = n
	})
}

// WithMaxOutstanding caps how far written bytes may run ahead of
// quorum-acknowledged bytes before Write blocks until the oldest
// pending commit lands (default: 32 MiB, 0 disables backpressure).
// Must be at least the flush size when set.
func WithMaxOutstanding(n uint64) Option {
	return funcOpt(func(c *config) {
		c.MaxOutstanding = n
	})
}

// WithChecksum selects the chunk checksum algorithm and the byte range
// each digest covers (defaults: CRC32C over 1 MiB ranges).
func WithChecksum(kind ChecksumType, bytesPerChecksum int) Option {
	return funcOpt(func(c *config) {
		c.ChecksumType = kind
		c.BytesPerChecksum = bytesPerChecksum
	})
}

// WithWatchTimeout bounds each quorum watch (default: 3m, 0 = no
// bound). Expiry surfaces as ErrQuorumTimeout and fails the session.
func WithWatchTimeout(d time.Duration) Option {
	return funcOpt(func(c *config) {
		c.WatchTimeout = d
	})
}

// WithTags sets fixed key/value tags carried on every metadata commit.
func WithTags(tags map[string]string) Option {
	return funcOpt(func(c *config) {
		c.Tags = tags
	})
}

// WithSyncPolicy installs the periodic disk-sync trigger: a chunk whose
// end position satisfies the policy is sent with a sync hint. The
// default policy never requests a sync.
func WithSyncPolicy(fn func(position uint64) bool) Option {
	return funcOpt(func(c *config) {
		c.SyncPolicy = fn
	})
}

// defaultConfig returns sensible defaults
func defaultConfig() config {
	return config{
		ChunkSize:        4 << 20,
		FlushSize:        16 << 20,
		MaxOutstanding:   32 << 20,
		ChecksumType:     ChecksumCRC32C,
		BytesPerChecksum: 1 << 20,
		WatchTimeout:     3 * time.Minute,
	}
}

// validate rejects misconfiguration when the writer is constructed.
// The flush cadence invariants are never checked at runtime.
func (c *config) validate() error {
	if c.ChunkSize == 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidArgument)
	}
	if c.FlushSize == 0 || c.FlushSize%c.ChunkSize != 0 {
		return fmt.Errorf("%w: flush size %d is not a multiple of chunk size %d",
			ErrInvalidArgument, c.FlushSize, c.ChunkSize)
	}
	if c.MaxOutstanding != 0 && c.MaxOutstanding < c.FlushSize {
		return fmt.Errorf("%w: max outstanding %d is smaller than flush size %d",
			ErrInvalidArgument, c.MaxOutstanding, c.FlushSize)
	}
	if c.BytesPerChecksum <= 0 {
		return fmt.Errorf("%w: bytes per checksum must be positive, got %d",
			ErrInvalidArgument, c.BytesPerChecksum)
	}
	return nil
}
