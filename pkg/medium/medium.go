// Package medium simulates the secondary storage that holds every block
// which is not resident in memory.
//
// Each image is kept encoded as it would be on disk: optionally compressed
// and followed by an xxhash checksum that is verified on read. Decoded images
// can be kept in a bounded ristretto cache keyed by image version, so an
// overwritten block is never served from a stale entry.
package medium

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/stats"
	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
)

var (
	// ErrImageNotFound is returned when reading or deleting an unknown image
	ErrImageNotFound = errors.New("image not found on medium")

	// ErrChecksumMismatch is returned when a stored image fails verification
	ErrChecksumMismatch = errors.New("image checksum mismatch")

	// ErrClosed is returned when the medium has been closed
	ErrClosed = errors.New("medium is closed")
)

// Options configures a Medium
type Options struct {
	Codec           Codec
	VerifyChecksums bool
	CacheBytes      int64 // 0 disables the image cache

	Logger log.Logger
	Stats  stats.Collector
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		Codec:           CodecSnappy,
		VerifyChecksums: true,
		CacheBytes:      4 * 1024 * 1024,
	}
}

type image struct {
	data     []byte
	checksum uint64
	rawSize  int
	version  uint64
}

// Medium stores encoded block images by id
type Medium struct {
	opts       Options
	logger     log.Logger
	compressor *compressor
	cache      *ristretto.Cache[string, []byte]

	mu          sync.Mutex
	images      map[uint64]image
	nextVersion uint64
	rawBytes    int64
	storedBytes int64
	closed      bool
}

// New creates an empty medium
func New(opts Options) (*Medium, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Component("medium")
	}

	comp, err := newCompressor(opts.Codec)
	if err != nil {
		return nil, err
	}

	m := &Medium{
		opts:       opts,
		logger:     logger,
		compressor: comp,
		images:     make(map[uint64]image),
	}

	if opts.CacheBytes > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters: 10 * (opts.CacheBytes/1024 + 1),
			MaxCost:     opts.CacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			comp.close()
			return nil, fmt.Errorf("failed to create image cache: %w", err)
		}
		m.cache = cache
	}

	logger.Debug("Medium created with codec %s, checksums %t, cache %d bytes",
		opts.Codec, opts.VerifyChecksums, opts.CacheBytes)
	return m, nil
}

// Write stores raw as the image of id, replacing any previous image
func (m *Medium) Write(id uint64, raw []byte) error {
	stored := m.compressor.compress(raw)
	checksum := xxhash.Sum64(stored)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if old, ok := m.images[id]; ok {
		m.rawBytes -= int64(old.rawSize)
		m.storedBytes -= int64(len(old.data))
	}
	m.nextVersion++
	img := image{data: stored, checksum: checksum, rawSize: len(raw), version: m.nextVersion}
	m.images[id] = img
	m.rawBytes += int64(len(raw))
	m.storedBytes += int64(len(stored))
	m.mu.Unlock()

	if m.cache != nil && len(raw) > 0 {
		m.cache.Set(cacheKey(id, img.version), append([]byte(nil), raw...), int64(len(raw)))
	}

	if m.opts.Stats != nil {
		m.opts.Stats.TrackBytes(true, uint64(len(stored)))
	}
	return nil
}

// Read returns the raw image of id. The returned slice must not be modified.
func (m *Medium) Read(id uint64) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	img, ok := m.images[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrImageNotFound, id)
	}

	if m.opts.Stats != nil {
		m.opts.Stats.TrackBytes(false, uint64(len(img.data)))
	}

	key := cacheKey(id, img.version)
	if m.cache != nil {
		if raw, ok := m.cache.Get(key); ok {
			return raw, nil
		}
	}

	if m.opts.VerifyChecksums && xxhash.Sum64(img.data) != img.checksum {
		if m.opts.Stats != nil {
			m.opts.Stats.TrackError("checksum_mismatch")
		}
		return nil, fmt.Errorf("%w: image %d", ErrChecksumMismatch, id)
	}

	raw, err := m.compressor.decompress(img.data)
	if err != nil {
		if m.opts.Stats != nil {
			m.opts.Stats.TrackError("decompress_error")
		}
		return nil, fmt.Errorf("image %d: %w", id, err)
	}

	if m.cache != nil && len(raw) > 0 {
		m.cache.Set(key, raw, int64(len(raw)))
	}
	return raw, nil
}

// Delete removes the image of id
func (m *Medium) Delete(id uint64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	img, ok := m.images[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrImageNotFound, id)
	}
	delete(m.images, id)
	m.rawBytes -= int64(img.rawSize)
	m.storedBytes -= int64(len(img.data))
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Del(cacheKey(id, img.version))
	}
	return nil
}

// Contains reports whether an image is stored for id
func (m *Medium) Contains(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.images[id]
	return ok
}

// Len returns the number of stored images
func (m *Medium) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.images)
}

// Size returns the total raw and stored (compressed) bytes of all images
func (m *Medium) Size() (raw, stored int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rawBytes, m.storedBytes
}

// Codec returns the codec images are stored with
func (m *Medium) Codec() Codec {
	return m.opts.Codec
}

// Close drops every image and releases codec and cache resources
func (m *Medium) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.images = nil
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Close()
	}
	m.compressor.close()
	return nil
}

func cacheKey(id, version uint64) string {
	return strconv.FormatUint(id, 10) + ":" + strconv.FormatUint(version, 10)
}
