package medium

import (
	"bytes"
	"errors"
	"testing"

	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/stats"
)

// corrupt flips one byte of a stored image
func (m *Medium) corrupt(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok || len(img.data) == 0 {
		return false
	}
	img.data[len(img.data)/2] ^= 0xff
	return true
}

func newTestMedium(t *testing.T, opts Options) *Medium {
	t.Helper()
	opts.Logger = log.NewDiscardLogger()
	m, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create medium: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name string
		want Codec
	}{
		{"", CodecNone},
		{"none", CodecNone},
		{"Snappy", CodecSnappy},
		{" zstd ", CodecZstd},
	}
	for _, tt := range tests {
		got, err := ParseCodec(tt.name)
		if err != nil {
			t.Errorf("ParseCodec(%q) failed: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCodec(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if _, err := ParseCodec("lz4"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("Expected ErrUnknownCodec, got %v", err)
	}
}

func TestMedium_ReadWrite(t *testing.T) {
	payload := bytes.Repeat([]byte("block image "), 64)

	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecZstd} {
		for _, cacheBytes := range []int64{0, 1 << 20} {
			t.Run(codec.String(), func(t *testing.T) {
				m := newTestMedium(t, Options{Codec: codec, VerifyChecksums: true, CacheBytes: cacheBytes})

				if err := m.Write(1, payload); err != nil {
					t.Fatalf("Write failed: %v", err)
				}
				got, err := m.Read(1)
				if err != nil {
					t.Fatalf("Read failed: %v", err)
				}
				if !bytes.Equal(got, payload) {
					t.Errorf("Read returned %d bytes, want %d", len(got), len(payload))
				}

				raw, stored := m.Size()
				if raw != int64(len(payload)) {
					t.Errorf("Expected raw size %d, got %d", len(payload), raw)
				}
				if codec != CodecNone && stored >= raw {
					t.Errorf("Expected %v to compress a repetitive image, stored %d of %d", codec, stored, raw)
				}
			})
		}
	}
}

func TestMedium_Overwrite(t *testing.T) {
	m := newTestMedium(t, Options{Codec: CodecSnappy, CacheBytes: 1 << 20})

	if err := m.Write(7, []byte("first")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := m.Read(7); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	m.cache.Wait()

	if err := m.Write(7, []byte("second")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := m.Read(7)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Expected overwritten image, got %q", got)
	}
	if m.Len() != 1 {
		t.Errorf("Expected 1 image, got %d", m.Len())
	}
	if raw, _ := m.Size(); raw != int64(len("second")) {
		t.Errorf("Expected raw size %d after overwrite, got %d", len("second"), raw)
	}
}

func TestMedium_EmptyImage(t *testing.T) {
	m := newTestMedium(t, Options{Codec: CodecZstd, VerifyChecksums: true})

	if err := m.Write(3, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !m.Contains(3) {
		t.Fatal("Expected empty image to be stored")
	}
	got, err := m.Read(3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty image, got %d bytes", len(got))
	}
}

func TestMedium_Delete(t *testing.T) {
	m := newTestMedium(t, DefaultOptions())

	if err := m.Write(1, []byte("data")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := m.Delete(1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if m.Contains(1) {
		t.Error("Image still present after delete")
	}
	if _, err := m.Read(1); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Expected ErrImageNotFound, got %v", err)
	}
	if err := m.Delete(1); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Expected ErrImageNotFound on second delete, got %v", err)
	}
	if raw, stored := m.Size(); raw != 0 || stored != 0 {
		t.Errorf("Expected empty medium, got raw=%d stored=%d", raw, stored)
	}
}

func TestMedium_ChecksumMismatch(t *testing.T) {
	collector := stats.NewAtomicCollector()
	m := newTestMedium(t, Options{Codec: CodecNone, VerifyChecksums: true, Stats: collector})

	if err := m.Write(9, []byte("some block image")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !m.corrupt(9) {
		t.Fatal("Failed to corrupt image")
	}

	if _, err := m.Read(9); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got %v", err)
	}

	errs := collector.GetStats()["errors"].(map[string]uint64)
	if errs["checksum_mismatch"] != 1 {
		t.Errorf("Expected one checksum_mismatch error, got %v", errs)
	}
}

func TestMedium_Stats(t *testing.T) {
	collector := stats.NewAtomicCollector()
	m := newTestMedium(t, Options{Codec: CodecNone, Stats: collector})

	if err := m.Write(1, []byte("12345")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := m.Read(1); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	s := collector.GetStats()
	if s["total_bytes_written"].(uint64) != 5 {
		t.Errorf("Expected 5 bytes written, got %v", s["total_bytes_written"])
	}
	if s["total_bytes_read"].(uint64) != 5 {
		t.Errorf("Expected 5 bytes read, got %v", s["total_bytes_read"])
	}
}

func TestMedium_Closed(t *testing.T) {
	m, err := New(Options{Logger: log.NewDiscardLogger()})
	if err != nil {
		t.Fatalf("Failed to create medium: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if err := m.Write(1, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
