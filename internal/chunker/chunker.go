package chunker

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/cooklang/cooksync/internal/utils"
	mapset "github.com/deckarep/golang-set/v2"
)

const (
	// IDLength is the number of hex characters of the sha256 kept as a chunk id
	IDLength = 10

	// DefaultBlockSize is the chunk size used for binary files
	DefaultBlockSize = 1 << 20
)

var (
	ErrChunkMissing = errors.New("chunk missing from cache")
	ErrCorruptChunk = errors.New("chunk content does not match its id")
	ErrCorruptFile  = errors.New("assembled file does not match expected hash")
	ErrInvalidID    = errors.New("invalid chunk id")
)

var idRegex = regexp.MustCompile(`^[0-9a-f]{10}$`)

// FileChunks is the result of splitting a file into chunks
type FileChunks struct {
	Path     string
	ChunkIDs []string
	Hash     string
	Size     int64
	Format   Format
}

// Chunker splits files under root into content addressed chunks and
// reassembles files from chunks held in its cache.
type Chunker struct {
	root      string
	cache     Cache
	blockSize int
}

func New(root string, cache Cache) *Chunker {
	return &Chunker{
		root:      filepath.Clean(root),
		cache:     cache,
		blockSize: DefaultBlockSize,
	}
}

// SetBlockSize changes the binary chunk size
func (c *Chunker) SetBlockSize(size int) {
	if size > 0 {
		c.blockSize = size
	}
}

// HashChunk returns the id of a chunk
func HashChunk(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:IDLength]
}

// IsValidID reports whether id is a well formed chunk id. The empty id stands
// for empty content and is valid.
func IsValidID(id string) bool {
	return id == "" || idRegex.MatchString(id)
}

func (c *Chunker) fullPath(path string) (string, error) {
	return utils.JoinSlash(c.root, path)
}

// Hashify splits the file at path (relative, slash separated) into chunks,
// stores every chunk in the cache and returns the ordered ids.
// Text files are split per line, binary files in fixed size blocks.
func (c *Chunker) Hashify(path string) (*FileChunks, error) {
	full, err := c.fullPath(path)
	if err != nil {
		return nil, err
	}

	format, err := DetectFormat(full)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	fileHash := sha256.New()
	reader := bufio.NewReader(io.TeeReader(file, fileHash))
	result := &FileChunks{Path: path, Format: format, ChunkIDs: []string{}}

	next := c.nextLine
	if format == FormatBinary {
		next = c.nextBlock
	}

	for {
		data, err := next(reader)
		if len(data) > 0 {
			id := HashChunk(data)
			if err := c.cache.Set(id, data); err != nil {
				return nil, fmt.Errorf("cache chunk %s: %w", id, err)
			}
			result.ChunkIDs = append(result.ChunkIDs, id)
			result.Size += int64(len(data))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	result.Hash = hex.EncodeToString(fileHash.Sum(nil))
	return result, nil
}

func (c *Chunker) nextLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	return line, err
}

func (c *Chunker) nextBlock(r *bufio.Reader) ([]byte, error) {
	buf := make([]byte, c.blockSize)
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return buf[:n], err
}

// Save assembles path from the given chunk ids. When wantHash is set the
// assembled content must hash to it, otherwise nothing is written.
// The file is replaced atomically.
func (c *Chunker) Save(path string, ids []string, wantHash string) error {
	full, err := c.fullPath(path)
	if err != nil {
		return err
	}

	parts := make([]io.Reader, 0, len(ids))
	fileHash := sha256.New()
	for _, id := range ids {
		data, err := c.ReadChunk(id)
		if err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
		fileHash.Write(data)
		parts = append(parts, bytes.NewReader(data))
	}

	if wantHash != "" {
		if got := hex.EncodeToString(fileHash.Sum(nil)); got != wantHash {
			return fmt.Errorf("save %s: %w: want %s got %s", path, ErrCorruptFile, wantHash, got)
		}
	}

	slog.Debug("chunker save", "path", path, "chunks", len(ids))
	return utils.WriteFileAtomic(full, io.MultiReader(parts...), 0o644)
}

// Delete removes path and any parent directories it leaves empty, stopping at the root
func (c *Chunker) Delete(path string) error {
	full, err := c.fullPath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	for dir := filepath.Dir(full); dir != c.root && len(dir) > len(c.root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// Exists reports whether path exists under the root
func (c *Chunker) Exists(path string) bool {
	full, err := c.fullPath(path)
	if err != nil {
		return false
	}
	_, err = os.Lstat(full)
	return err == nil
}

func (c *Chunker) ReadChunk(id string) ([]byte, error) {
	if id == "" {
		return []byte{}, nil
	}
	data, ok := c.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChunkMissing, id)
	}
	return data, nil
}

// SaveChunk stores a chunk received from elsewhere after checking it against its id
func (c *Chunker) SaveChunk(id string, data []byte) error {
	if !IsValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if id == "" {
		return nil
	}
	if got := HashChunk(data); got != id {
		return fmt.Errorf("%w: want %s got %s", ErrCorruptChunk, id, got)
	}
	return c.cache.Set(id, data)
}

// CheckChunk reports whether the chunk is available locally
func (c *Chunker) CheckChunk(id string) bool {
	return id == "" || c.cache.Contains(id)
}

// Missing returns the distinct ids that are not available locally, in first seen order
func (c *Chunker) Missing(ids []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	missing := make([]string, 0)
	for _, id := range ids {
		if !seen.Add(id) {
			continue
		}
		if !c.CheckChunk(id) {
			missing = append(missing, id)
		}
	}
	return missing
}
