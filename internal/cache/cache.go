// Package cache is the content-addressed build cache store: given a
// beam's fingerprint, it records or looks up the outcome of that exact
// recipe+inputs combination, so a later run with an identical fingerprint
// can skip re-execution.
//
// The on-disk index is a flat file of length-framed records, each holding
// a 32-byte fingerprint key and a YAML-encoded payload. Writes go to a
// temp file in the same directory and are renamed into place, so a crash
// mid-write never corrupts the index the next process opens. A read-through
// in-memory LRU sits in front of it for the hot path of a single run
// re-checking beams it has already resolved once this process.
package cache

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/aurora-build/aurora/internal/fingerprint"
	"github.com/aurora-build/aurora/internal/model"
)

// indexVersion is bumped whenever Record's on-disk encoding changes in a
// way old readers can't tolerate.
const indexVersion uint32 = 1

// Record is what gets stored per fingerprint: the beam's name (for
// diagnostics, not lookup), the exit codes of its recorded run, when it
// was recorded, and the content hash of every output file the beam
// declared, so a later hit can be rejected if an output went missing or
// was modified out-of-band.
type Record struct {
	BeamName  string         `yaml:"beam_name"`
	ExitCodes []int          `yaml:"exit_codes"`
	Recorded  time.Time      `yaml:"recorded"`
	Outputs   []OutputRecord `yaml:"outputs,omitempty"`
}

// OutputRecord is one output file's path (relative to the beam's working
// directory at record time) and hex-encoded content hash.
type OutputRecord struct {
	Path string `yaml:"path"`
	Hash string `yaml:"hash"`
}

// OutputsFromHashes converts fingerprint.HashOutputs' result into the
// record's on-disk shape.
func OutputsFromHashes(hashes []fingerprint.OutputHash) []OutputRecord {
	out := make([]OutputRecord, len(hashes))
	for i, h := range hashes {
		out[i] = OutputRecord{Path: h.RelPath, Hash: hex.EncodeToString(h.Hash[:])}
	}
	return out
}

// OutputsValid reports whether every output this record declares still
// exists under workingDir with its recorded content hash. An empty
// Outputs list (a beam with no declared outputs) is always valid; any
// missing file, content mismatch, or unparsable stored hash fails
// verification.
func (r Record) OutputsValid(workingDir string) bool {
	if len(r.Outputs) == 0 {
		return true
	}
	hashes := make([]fingerprint.OutputHash, len(r.Outputs))
	for i, o := range r.Outputs {
		raw, err := hex.DecodeString(o.Hash)
		if err != nil || len(raw) != 32 {
			return false
		}
		var h [32]byte
		copy(h[:], raw)
		hashes[i] = fingerprint.OutputHash{RelPath: o.Path, Hash: h}
	}
	return fingerprint.VerifyOutputs(hashes, workingDir)
}

// Store is a single Beamfile run's handle onto the on-disk cache index.
// A Store is safe for concurrent use: beams dispatch and record results
// from independent goroutines.
type Store struct {
	path string

	mu    sync.Mutex // serializes index file writes
	lru   *lru.Cache[fingerprint.Fingerprint, Record]
	disabled bool
}

// Open opens the cache index at path, creating its directory if absent;
// a missing index file reads as empty until the first write. lruSize bounds
// the in-memory read-through cache; 0 picks a sane default.
func Open(path string, lruSize int) (*Store, error) {
	if lruSize <= 0 {
		lruSize = 1024
	}
	l, err := lru.New[fingerprint.Fingerprint, Record](lruSize)
	if err != nil {
		return nil, fmt.Errorf("cache: building LRU: %w", err)
	}
	s := &Store{path: path, lru: l}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &model.CacheError{Op: "open", Err: err}
	}
	return s, nil
}

// Disabled returns a Store that always misses on lookup and discards
// every record — the implementation of run options' cache_enabled=false.
func Disabled() *Store {
	l, _ := lru.New[fingerprint.Fingerprint, Record](1)
	return &Store{disabled: true, lru: l}
}

// Lookup returns the recorded outcome for fp, if any. A corrupt or
// missing index is treated as a miss, never an error: the caller logs
// the CacheError (if non-nil) and proceeds as if nothing were cached.
func (s *Store) Lookup(fp fingerprint.Fingerprint) (Record, bool, error) {
	if s.disabled {
		return Record{}, false, nil
	}
	if rec, ok := s.lru.Get(fp); ok {
		return rec, true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return Record{}, false, &model.CacheError{Op: "lookup", Err: err}
	}
	rec, ok := records[fp]
	if ok {
		s.lru.Add(fp, rec)
	}
	return rec, ok, nil
}

// Record persists rec under fp: read-modify-write the whole index via a
// temp file + rename, then populate the in-memory LRU so this process's
// own subsequent lookups don't need to re-read the file.
func (s *Store) Record(fp fingerprint.Fingerprint, rec Record) error {
	if s.disabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		// A corrupt index is rebuilt from scratch on the next write
		// rather than blocking the run.
		records = make(map[fingerprint.Fingerprint]Record)
	}
	records[fp] = rec

	if err := s.writeAll(records); err != nil {
		return &model.CacheError{Op: "record", Err: err}
	}
	s.lru.Add(fp, rec)
	return nil
}

// Clean removes every recorded entry, on disk and in memory.
func (s *Store) Clean() error {
	if s.disabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Purge()
	if err := s.writeAll(nil); err != nil {
		return &model.CacheError{Op: "clean", Err: err}
	}
	return nil
}

// Status reports the number of entries currently recorded on disk and the
// on-disk index file's total size in bytes, for diagnostics/reporting
// commands.
func (s *Store) Status() (entryCount int, totalBytes int64, err error) {
	if s.disabled {
		return 0, 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return 0, 0, &model.CacheError{Op: "status", Err: err}
	}

	info, statErr := os.Stat(s.path)
	if statErr != nil && !os.IsNotExist(statErr) {
		return len(records), 0, &model.CacheError{Op: "status", Err: statErr}
	}
	if info != nil {
		totalBytes = info.Size()
	}
	return len(records), totalBytes, nil
}

// readAll parses the on-disk index into a map. Caller must hold s.mu.
func (s *Store) readAll() (map[fingerprint.Fingerprint]Record, error) {
	records := make(map[fingerprint.Fingerprint]Record)

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var key fingerprint.Fingerprint
		if _, err := io.ReadFull(r, key[:]); err != nil {
			if err == io.EOF {
				break
			}
			// Truncated trailing record: treat everything read so far as
			// valid and stop, rather than failing the whole index.
			break
		}

		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		version := binary.LittleEndian.Uint32(header[0:4])
		payloadLen := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}

		// The frame (key + header + payload) is self-describing regardless
		// of version, so a record written by a future, incompatible format
		// is skipped without losing sync with the records after it.
		if version != indexVersion {
			continue
		}

		var rec Record
		if err := yaml.Unmarshal(payload, &rec); err != nil {
			continue
		}
		records[key] = rec
	}
	return records, nil
}

// writeAll atomically replaces the on-disk index with records. Caller
// must hold s.mu.
func (s *Store) writeAll(records map[fingerprint.Fingerprint]Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cache-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	w := bufio.NewWriter(tmp)
	for key, rec := range records {
		payload, err := yaml.Marshal(rec)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.Write(key[:]); err != nil {
			tmp.Close()
			return err
		}
		var header [8]byte
		binary.LittleEndian.PutUint32(header[0:4], indexVersion)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
		if _, err := w.Write(header[:]); err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.Write(payload); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
