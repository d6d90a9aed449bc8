//go:build windows

package flux

import "os"

// fileID identifies a file for symlink cycle detection. Windows exposes no cheap inode equivalent through os.FileInfo,
// so the path string stands in; cycles through differently spelled paths fall back to the walk's depth naturally.
type fileID struct {
	path string
}

func statID(fi os.FileInfo) (fileID, bool) {
	return fileID{path: fi.Name()}, true
}

func ownerUID(os.FileInfo) int { return -1 }

func ownerGID(os.FileInfo) int { return -1 }
