package strategy

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// DirectorySampleLimit is the maximum number of files sampled by SmartForDirectory.
const DirectorySampleLimit = 64

// SmartForDirectory picks one strategy for a whole directory, for containers compressed by a single outer codec.
//
// Up to DirectorySampleLimit files are sampled by a stratified walk (every k-th file so the sample spans the whole
// tree rather than the first subdirectory). Store wins when at least half the sample is precompressed by count or by
// size; xz wins for large, highly compressible trees; zstd is the default otherwise.
func SmartForDirectory(root string, o Overrides) (Strategy, error) {
	if o.Algorithm != "" {
		return o.apply(defaults(o.Algorithm, 0)), nil
	}

	var files []string
	var totalSize int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		totalSize += fi.Size()
		files = append(files, path)
		return nil
	})
	if err != nil {
		return Strategy{}, fmt.Errorf(`walk directory "%s" error: %w`, root, err)
	}

	if len(files) == 0 {
		return o.apply(Strategy{Algorithm: Zstd, Level: 3, Threads: min(runtime.NumCPU(), 4)}), nil
	}

	// stratified sample: every k-th file, k chosen so at most DirectorySampleLimit files are inspected.
	stride := max(1, (len(files)+DirectorySampleLimit-1)/DirectorySampleLimit)
	var (
		sampled            int
		precompressedCount int
		sampledSize        int64
		precompressedSize  int64
		compressibleSize   int64
	)
	for i := 0; i < len(files) && sampled < DirectorySampleLimit; i += stride {
		path := files[i]
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}

		sampled++
		sampledSize += fi.Size()

		if IsPrecompressed(path) {
			precompressedCount++
			precompressedSize += fi.Size()
			continue
		}

		if entropy, err := FileEntropy(path); err == nil && entropy > HighEntropyThreshold {
			precompressedCount++
			precompressedSize += fi.Size()
			continue
		}

		compressibleSize += fi.Size()
	}

	if sampled > 0 {
		byCount := precompressedCount*2 >= sampled
		bySize := sampledSize > 0 && precompressedSize*2 >= sampledSize
		if byCount || bySize {
			return o.apply(Strategy{Algorithm: Store, Threads: 1}), nil
		}
	}

	// a large tree dominated by compressible content is worth xz's time.
	if totalSize >= LargeFileSize && sampledSize > 0 && compressibleSize*4 >= sampledSize*3 {
		return o.apply(Strategy{Algorithm: Xz, Level: 6, Threads: 1}), nil
	}

	level := 3
	if totalSize >= ZstdHighLevelSize {
		level = 6
	}

	return o.apply(Strategy{Algorithm: Zstd, Level: level, Threads: min(runtime.NumCPU(), 4)}), nil
}
