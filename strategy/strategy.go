// Package strategy selects a compression algorithm, level, and thread count from file characteristics: extension,
// size, and a sampled entropy measurement.
package strategy

import (
	"runtime"
)

// Algorithm names a compression algorithm the engine knows how to drive.
type Algorithm string

const (
	Store  Algorithm = "store"
	Gzip   Algorithm = "gzip"
	Zstd   Algorithm = "zstd"
	Xz     Algorithm = "xz"
	Brotli Algorithm = "brotli"
)

// Size thresholds driving the selection.
const (
	// MinCompressSize is the size below which compressing is pure overhead.
	MinCompressSize = 64

	// LargeFileSize is the size at or above which xz wins on ratio despite its cost.
	LargeFileSize = 100 * 1024 * 1024

	// ZstdHighLevelSize is the size at or above which zstd steps up from level 3 to 6.
	ZstdHighLevelSize = 1024 * 1024
)

// Strategy is the outcome of selection: which algorithm at which level on how many threads.
//
// Level is normalized to each algorithm's own range by the codec layer; Threads is always at least 1.
type Strategy struct {
	Algorithm Algorithm
	Level     int
	Threads   int
}

// Overrides restricts what Smart may choose. Zero values mean "no preference".
type Overrides struct {
	// Algorithm forces the named algorithm; the heuristics then only pick level and threads.
	Algorithm Algorithm

	// Level forces the compression level.
	Level int

	// Threads forces the thread count.
	Threads int

	// ForceCompress disables the precompressed-extension and entropy checks that would otherwise select Store.
	ForceCompress bool
}

func (o Overrides) apply(s Strategy) Strategy {
	if o.Algorithm != "" {
		s.Algorithm = o.Algorithm
	}
	if o.Level > 0 {
		s.Level = o.Level
	}
	if o.Threads > 0 {
		s.Threads = o.Threads
	}
	if s.Threads < 1 {
		s.Threads = 1
	}

	return s
}

// Smart picks a strategy for a single file from its path, size, and (when needed) a sampled entropy measurement.
//
// Store wins for tiny files, precompressed extensions, and high-entropy content; xz wins for very large files;
// zstd wins for text-like extensions; gzip is the conservative default. Overrides restrict but do not bypass the
// heuristics: an explicit algorithm skips selection but keeps level/thread derivation.
func Smart(path string, size int64, o Overrides) Strategy {
	if o.Algorithm != "" {
		return o.apply(defaults(o.Algorithm, size))
	}

	if size < MinCompressSize {
		return o.apply(Strategy{Algorithm: Store, Threads: 1})
	}

	if !o.ForceCompress {
		if IsPrecompressed(path) {
			return o.apply(Strategy{Algorithm: Store, Threads: 1})
		}

		if entropy, err := FileEntropy(path); err == nil && entropy > HighEntropyThreshold {
			return o.apply(Strategy{Algorithm: Store, Threads: 1})
		}
	}

	if size >= LargeFileSize {
		// xz keeps memory in check on huge inputs only when single-threaded.
		return o.apply(Strategy{Algorithm: Xz, Level: 6, Threads: 1})
	}

	if IsTextLike(path) {
		level := 3
		if size >= ZstdHighLevelSize {
			level = 6
		}

		return o.apply(Strategy{Algorithm: Zstd, Level: level, Threads: min(runtime.NumCPU(), 4)})
	}

	return o.apply(Strategy{Algorithm: Gzip, Level: 6, Threads: 1})
}

func defaults(alg Algorithm, size int64) Strategy {
	switch alg {
	case Store:
		return Strategy{Algorithm: Store, Threads: 1}
	case Xz:
		return Strategy{Algorithm: Xz, Level: 6, Threads: 1}
	case Zstd:
		level := 3
		if size >= ZstdHighLevelSize {
			level = 6
		}
		return Strategy{Algorithm: Zstd, Level: level, Threads: min(runtime.NumCPU(), 4)}
	case Brotli:
		return Strategy{Algorithm: Brotli, Level: 6, Threads: 1}
	default:
		return Strategy{Algorithm: Gzip, Level: 6, Threads: 1}
	}
}

// AdjustForParallel clamps the thread count to what each algorithm can put to use: store and gzip are single-stream,
// xz is capped at 2 for memory, zstd may use every CPU. Explicit thread overrides survive the clamp.
func (s Strategy) AdjustForParallel(o Overrides) Strategy {
	if o.Threads > 0 {
		s.Threads = o.Threads
		return s
	}

	switch s.Algorithm {
	case Store, Gzip:
		s.Threads = 1
	case Xz:
		s.Threads = min(s.Threads, 2)
	case Zstd:
		s.Threads = min(s.Threads, runtime.NumCPU())
	}

	if s.Threads < 1 {
		s.Threads = 1
	}

	return s
}
