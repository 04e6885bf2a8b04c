package persistence

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
)

// Snapshot is the serializable state of an index: vectors, adjacency, entry
// point, trained codebooks and metadata documents.
type Snapshot struct {
	Dim       int
	Metric    uint8
	MaxDegree int
	Medoid    uint32

	IDs       []string
	Vectors   [][]float32
	Neighbors [][]uint32
	Codes     [][]byte

	Codebooks [][][]float32 // nil when the compressor is untrained
	Docs      map[string]map[string]string
}

// Count returns the number of vectors in the snapshot.
func (s *Snapshot) Count() int { return len(s.IDs) }

// Manager writes and restores snapshots at a fixed path. Checkpoints are
// atomic: the snapshot is written to a temp file and renamed over the
// target, so a crash mid-write never corrupts the previous checkpoint.
type Manager struct {
	path  string
	codec Compression
	log   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCompression selects the section codec (default zstd).
func WithCompression(c Compression) Option {
	return func(m *Manager) { m.codec = c }
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a Manager persisting to path.
func NewManager(path string, optFns ...Option) *Manager {
	m := &Manager{
		path:  path,
		codec: CompressionZSTD,
		log:   slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(m)
		}
	}
	return m
}

// Path returns the snapshot path.
func (m *Manager) Path() string { return m.path }

// Checkpoint writes snap and returns the number of vectors persisted.
// Checkpointing an empty snapshot is valid and idempotent.
func (m *Manager) Checkpoint(ctx context.Context, snap *Snapshot) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return 0, fmt.Errorf("persistence: checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".snapshot-*")
	if err != nil {
		return 0, fmt.Errorf("persistence: checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	if err := m.write(w, snap); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("persistence: checkpoint: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("persistence: checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("persistence: checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("persistence: checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, m.path); err != nil {
		return 0, fmt.Errorf("persistence: checkpoint: %w", err)
	}

	m.log.Info("checkpoint saved", "path", m.path, "count", snap.Count(), "compression", m.codec.String())
	return snap.Count(), nil
}

// Recover reads the snapshot at the manager's path. A missing file is not
// an error: it yields a nil snapshot and zero count, keeping recovery
// idempotent on an empty store.
func (m *Manager) Recover(ctx context.Context) (*Snapshot, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("persistence: recover: %w", err)
	}
	defer f.Close()

	snap, err := m.read(bufio.NewReader(f))
	if err != nil {
		return nil, 0, fmt.Errorf("persistence: recover: %w", err)
	}

	m.log.Info("checkpoint recovered", "path", m.path, "count", snap.Count())
	return snap, snap.Count(), nil
}

func (m *Manager) write(w io.Writer, snap *Snapshot) error {
	count := snap.Count()
	if len(snap.Vectors) != count || len(snap.Neighbors) != count || len(snap.Codes) != count {
		return fmt.Errorf("inconsistent snapshot: %d ids, %d vectors, %d adjacency, %d codes",
			count, len(snap.Vectors), len(snap.Neighbors), len(snap.Codes))
	}

	var header [28]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint16(header[4:6], formatVersion)
	header[6] = uint8(m.codec)
	header[7] = snap.Metric
	binary.LittleEndian.PutUint32(header[8:12], uint32(snap.Dim))
	binary.LittleEndian.PutUint32(header[12:16], uint32(snap.MaxDegree))
	binary.LittleEndian.PutUint32(header[16:20], snap.Medoid)
	binary.LittleEndian.PutUint32(header[20:24], uint32(count))
	if snap.Codebooks != nil {
		header[24] = 1
	}
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	enc := newEncoder()
	for _, id := range snap.IDs {
		enc.putString(id)
	}
	if err := writeSection(w, m.codec, enc.bytes()); err != nil {
		return err
	}

	enc.reset()
	for _, vec := range snap.Vectors {
		for _, v := range vec {
			enc.putUint32(math.Float32bits(v))
		}
	}
	if err := writeSection(w, m.codec, enc.bytes()); err != nil {
		return err
	}

	enc.reset()
	for _, nbrs := range snap.Neighbors {
		enc.putUint32(uint32(len(nbrs)))
		for _, n := range nbrs {
			enc.putUint32(n)
		}
	}
	if err := writeSection(w, m.codec, enc.bytes()); err != nil {
		return err
	}

	enc.reset()
	for _, code := range snap.Codes {
		enc.putBytes(code)
	}
	if err := writeSection(w, m.codec, enc.bytes()); err != nil {
		return err
	}

	if snap.Codebooks != nil {
		enc.reset()
		enc.putUint32(uint32(len(snap.Codebooks)))
		for _, book := range snap.Codebooks {
			enc.putUint32(uint32(len(book)))
			for _, centroid := range book {
				enc.putUint32(uint32(len(centroid)))
				for _, v := range centroid {
					enc.putUint32(math.Float32bits(v))
				}
			}
		}
		if err := writeSection(w, m.codec, enc.bytes()); err != nil {
			return err
		}
	}

	enc.reset()
	enc.putUint32(uint32(len(snap.Docs)))
	for id, doc := range snap.Docs {
		enc.putString(id)
		enc.putUint32(uint32(len(doc)))
		for k, v := range doc {
			enc.putString(k)
			enc.putString(v)
		}
	}
	return writeSection(w, m.codec, enc.bytes())
}

func (m *Manager) read(r io.Reader) (*Snapshot, error) {
	var header [28]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	if binary.LittleEndian.Uint32(header[0:4]) != magic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, v)
	}

	snap := &Snapshot{
		Metric:    header[7],
		Dim:       int(binary.LittleEndian.Uint32(header[8:12])),
		MaxDegree: int(binary.LittleEndian.Uint32(header[12:16])),
		Medoid:    binary.LittleEndian.Uint32(header[16:20]),
	}
	count := int(binary.LittleEndian.Uint32(header[20:24]))
	hasCodebooks := header[24] == 1

	payload, err := readSection(r)
	if err != nil {
		return nil, err
	}
	dec := decoder{buf: payload}
	snap.IDs = make([]string, count)
	for i := range snap.IDs {
		if snap.IDs[i], err = dec.string(); err != nil {
			return nil, err
		}
	}

	if payload, err = readSection(r); err != nil {
		return nil, err
	}
	dec = decoder{buf: payload}
	snap.Vectors = make([][]float32, count)
	for i := range snap.Vectors {
		vec := make([]float32, snap.Dim)
		for d := range vec {
			bits, derr := dec.uint32()
			if derr != nil {
				return nil, derr
			}
			vec[d] = math.Float32frombits(bits)
		}
		snap.Vectors[i] = vec
	}

	if payload, err = readSection(r); err != nil {
		return nil, err
	}
	dec = decoder{buf: payload}
	snap.Neighbors = make([][]uint32, count)
	for i := range snap.Neighbors {
		degree, derr := dec.uint32()
		if derr != nil {
			return nil, derr
		}
		nbrs := make([]uint32, degree)
		for j := range nbrs {
			if nbrs[j], err = dec.uint32(); err != nil {
				return nil, err
			}
		}
		snap.Neighbors[i] = nbrs
	}

	if payload, err = readSection(r); err != nil {
		return nil, err
	}
	dec = decoder{buf: payload}
	snap.Codes = make([][]byte, count)
	for i := range snap.Codes {
		if snap.Codes[i], err = dec.byteSlice(); err != nil {
			return nil, err
		}
	}

	if hasCodebooks {
		if payload, err = readSection(r); err != nil {
			return nil, err
		}
		dec = decoder{buf: payload}
		m32, derr := dec.uint32()
		if derr != nil {
			return nil, derr
		}
		snap.Codebooks = make([][][]float32, m32)
		for i := range snap.Codebooks {
			k, kerr := dec.uint32()
			if kerr != nil {
				return nil, kerr
			}
			book := make([][]float32, k)
			for j := range book {
				subdim, serr := dec.uint32()
				if serr != nil {
					return nil, serr
				}
				centroid := make([]float32, subdim)
				for d := range centroid {
					bits, berr := dec.uint32()
					if berr != nil {
						return nil, berr
					}
					centroid[d] = math.Float32frombits(bits)
				}
				book[j] = centroid
			}
			snap.Codebooks[i] = book
		}
	}

	if payload, err = readSection(r); err != nil {
		return nil, err
	}
	dec = decoder{buf: payload}
	docCount, derr := dec.uint32()
	if derr != nil {
		return nil, derr
	}
	snap.Docs = make(map[string]map[string]string, docCount)
	for i := uint32(0); i < docCount; i++ {
		id, serr := dec.string()
		if serr != nil {
			return nil, serr
		}
		pairs, perr := dec.uint32()
		if perr != nil {
			return nil, perr
		}
		doc := make(map[string]string, pairs)
		for j := uint32(0); j < pairs; j++ {
			k, kerr := dec.string()
			if kerr != nil {
				return nil, kerr
			}
			v, verr := dec.string()
			if verr != nil {
				return nil, verr
			}
			doc[k] = v
		}
		snap.Docs[id] = doc
	}

	return snap, nil
}
