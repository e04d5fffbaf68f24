// Package fingerprint turns a beam's interpolated recipe and matched input
// files into a 256-bit content digest, used by the cache store as the
// cache key. It never touches the filesystem beyond reading the input
// files it is given; glob expansion happens in this package too, but
// purely so it can be exercised deterministically in tests.
package fingerprint

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/aurora-build/aurora/internal/model"
)

// Fingerprint is a fixed-width 256-bit digest.
type Fingerprint [32]byte

// String renders the fingerprint as lowercase hex.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", f[:])
}

// Input is one glob-matched input file, with its path relative to the
// working directory and its resolved (symlink-followed) absolute path.
type Input struct {
	RelPath      string
	ResolvedPath string
}

// ExpandInputs resolves a beam's input glob patterns against workingDir,
// deterministically: each pattern's matches are sorted lexicographically,
// patterns are expanded in declaration order, and duplicate resolved paths
// are kept only once. Symlinks are followed but the resolved path is what
// gets hashed and recorded.
func ExpandInputs(patterns []string, workingDir string) ([]Input, error) {
	seen := make(map[string]bool)
	var out []Input
	for _, pattern := range patterns {
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(workingDir, pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: invalid glob pattern %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				return nil, fmt.Errorf("fingerprint: resolving %q: %w", m, err)
			}
			if seen[resolved] {
				continue
			}
			seen[resolved] = true
			rel, err := filepath.Rel(workingDir, m)
			if err != nil {
				rel = m
			}
			out = append(out, Input{RelPath: rel, ResolvedPath: resolved})
		}
	}
	return out, nil
}

// Compute digests the beam's name, its interpolated run/hook command
// lines in order, the content of every resolved input file, and the
// interpolated env overlay (sorted by key, so declaration order of the
// env block never changes the digest).
//
// beamName is hashed on its own; lines is the concatenation, in order, of
// pre-hook, run, and post-hook commands (already interpolated by the
// caller); inputs come from ExpandInputs; env is the post-interpolation
// environment overlay.
func Compute(beamName string, lines []string, inputs []Input, env map[string]string) (Fingerprint, error) {
	h := blake3.New()

	writeFrame(h, []byte(beamName))

	for _, line := range lines {
		writeFrame(h, []byte(line))
	}

	for _, in := range inputs {
		content, err := os.ReadFile(in.ResolvedPath)
		if err != nil {
			if os.IsNotExist(err) {
				return Fingerprint{}, &model.InputMissingError{Beam: beamName, Path: in.RelPath}
			}
			return Fingerprint{}, fmt.Errorf("fingerprint: reading %q: %w", in.RelPath, err)
		}
		writeFrame(h, []byte(in.ResolvedPath))
		writeFrame(h, content)
	}

	envKeys := make([]string, 0, len(env))
	for k := range env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		writeFrame(h, []byte(k))
		writeFrame(h, []byte(env[k]))
	}

	var out Fingerprint
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out, nil
}

// writeFrame writes a length-prefixed chunk so concatenated fields can
// never be confused with each other (e.g. "ab"+"c" vs "a"+"bc").
func writeFrame(h *blake3.Hasher, b []byte) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// OutputHash is one output file's path (relative to the working
// directory it was matched against) and content hash, used to verify a
// cache hit's recorded outputs are still present and unmodified.
type OutputHash struct {
	RelPath string
	Hash    [32]byte
}

// HashOutputs expands patterns against workingDir (the same deterministic
// glob rules ExpandInputs uses) and hashes each matched file's content,
// for recording alongside a beam's successful CacheRecord.
func HashOutputs(patterns []string, workingDir string) ([]OutputHash, error) {
	inputs, err := ExpandInputs(patterns, workingDir)
	if err != nil {
		return nil, err
	}
	out := make([]OutputHash, 0, len(inputs))
	for _, in := range inputs {
		h, err := hashFile(in.ResolvedPath)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: hashing output %q: %w", in.RelPath, err)
		}
		out = append(out, OutputHash{RelPath: in.RelPath, Hash: h})
	}
	return out, nil
}

// VerifyOutputs reports whether every entry in outputs still exists under
// workingDir with its recorded content hash. Any missing file or content
// mismatch fails verification immediately.
func VerifyOutputs(outputs []OutputHash, workingDir string) bool {
	for _, o := range outputs {
		full := o.RelPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(workingDir, o.RelPath)
		}
		h, err := hashFile(full)
		if err != nil || h != o.Hash {
			return false
		}
	}
	return true
}

func hashFile(path string) ([32]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, err
	}
	h := blake3.New()
	h.Write(content)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
