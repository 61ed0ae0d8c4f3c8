// Package pagestore archives scraped page content as lz4-compressed files
// keyed by normalized URL. Pages are written before observation masking
// evicts their content from run state, so cached-tier summarization and
// citation validation can still read them.
package pagestore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/Sumatoshi-tech/scout/internal/persist"
	"github.com/Sumatoshi-tech/scout/internal/search"
)

// ErrNotFound reports that no archived page exists for the URL.
var ErrNotFound = errors.New("page not archived")

const fileExt = ".lz4"

// Frame flags. Incompressible content is stored raw.
const (
	flagRaw byte = 0
	flagLZ4 byte = 1
)

// headerSize is 1 flag byte plus a 4-byte little-endian original length.
const headerSize = 5

// Store is a directory of archived pages. Safe for concurrent use: writes
// are atomic renames and the store itself is immutable.
type Store struct {
	dir string
}

// New opens (creating if needed) a page archive rooted at dir.
func New(dir string) (*Store, error) {
	err := os.MkdirAll(dir, persist.DirPerm)
	if err != nil {
		return nil, fmt.Errorf("create page archive dir: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Dir returns the archive root.
func (s *Store) Dir() string { return s.dir }

// Put archives content under the page URL, replacing any previous version.
func (s *Store) Put(url, content string) error {
	framed, err := encodeFrame([]byte(content))
	if err != nil {
		return fmt.Errorf("compress page %s: %w", url, err)
	}

	writeErr := persist.WriteFileAtomic(s.path(url), framed, persist.FilePerm)
	if writeErr != nil {
		return fmt.Errorf("archive page %s: %w", url, writeErr)
	}

	return nil
}

// Get returns the archived content for the URL, or ErrNotFound.
func (s *Store) Get(url string) (string, error) {
	data, err := os.ReadFile(s.path(url))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, url)
	}

	if err != nil {
		return "", fmt.Errorf("read archived page %s: %w", url, err)
	}

	content, decodeErr := decodeFrame(data)
	if decodeErr != nil {
		return "", fmt.Errorf("decode archived page %s: %w", url, decodeErr)
	}

	return string(content), nil
}

// Has reports whether the URL is archived.
func (s *Store) Has(url string) bool {
	_, err := os.Stat(s.path(url))

	return err == nil
}

// Count returns the number of archived pages.
func (s *Store) Count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read page archive dir: %w", err)
	}

	n := 0

	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == fileExt {
			n++
		}
	}

	return n, nil
}

// path maps a URL to its archive file. The key is the sha256 of the
// normalized URL, so tracking-param variants of one page share a slot.
func (s *Store) path(url string) string {
	norm, err := search.NormalizeURL(url)
	if err != nil {
		norm = url
	}

	sum := sha256.Sum256([]byte(norm))

	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+fileExt)
}

// encodeFrame compresses content into a self-describing frame: a flag byte,
// the original length, then an lz4 block (or the raw bytes when lz4 cannot
// shrink them).
func encodeFrame(content []byte) ([]byte, error) {
	frame := make([]byte, headerSize, headerSize+len(content))
	binary.LittleEndian.PutUint32(frame[1:headerSize], uint32(len(content)))

	if len(content) == 0 {
		frame[0] = flagRaw

		return frame, nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(content)))

	written, err := lz4.CompressBlock(content, compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// written == 0 means incompressible; keep the raw bytes.
	if written == 0 || written >= len(content) {
		frame[0] = flagRaw

		return append(frame, content...), nil
	}

	frame[0] = flagLZ4

	return append(frame, compressed[:written]...), nil
}

// decodeFrame reverses encodeFrame.
func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}

	flag := frame[0]
	size := binary.LittleEndian.Uint32(frame[1:headerSize])
	payload := frame[headerSize:]

	switch flag {
	case flagRaw:
		if uint32(len(payload)) != size {
			return nil, fmt.Errorf("raw frame length %d, header says %d", len(payload), size)
		}

		return payload, nil
	case flagLZ4:
		content := make([]byte, size)

		n, err := lz4.UncompressBlock(payload, content)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}

		if uint32(n) != size {
			return nil, fmt.Errorf("decompressed %d bytes, header says %d", n, size)
		}

		return content, nil
	default:
		return nil, fmt.Errorf("unknown frame flag %#x", flag)
	}
}
