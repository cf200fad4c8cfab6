package anacrolix

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent"

	"bitfinder/internal/domain"
)

type pieceRange struct {
	start int
	end   int
}

// headPieceRange returns the pieces covering the first readahead bytes of a
// file located at fileOffset within the torrent.
func headPieceRange(pieceLength int64, numPieces int, fileOffset, fileLength, readahead int64) (pieceRange, bool) {
	if pieceLength <= 0 || numPieces <= 0 || fileLength <= 0 || readahead <= 0 {
		return pieceRange{}, false
	}
	start := fileOffset
	end := fileOffset + min(readahead, fileLength)

	startPiece := int(start / pieceLength)
	endPiece := int((end + pieceLength - 1) / pieceLength)
	if startPiece >= numPieces {
		return pieceRange{}, false
	}
	if endPiece > numPieces {
		endPiece = numPieces
	}
	if endPiece <= startPiece {
		endPiece = startPiece + 1
	}
	return pieceRange{start: startPiece, end: endPiece}, true
}

// prioritizeHead raises the head of f so playback can start while the rest
// downloads at normal priority.
func prioritizeHead(t *torrent.Torrent, f *torrent.File, readahead int64) {
	pr, ok := headPieceRange(int64(t.Info().PieceLength), t.NumPieces(), f.Offset(), f.Length(), readahead)
	if !ok {
		return
	}
	t.Piece(pr.start).SetPriority(torrent.PiecePriorityNow)
	for i := pr.start + 1; i < pr.end; i++ {
		t.Piece(i).SetPriority(torrent.PiecePriorityReadahead)
	}
}

// removeTorrentFiles deletes files under baseDir, refusing any path that
// would escape it, then prunes directories left empty.
func removeTorrentFiles(baseDir string, files []domain.FileInfo) error {
	if strings.TrimSpace(baseDir) == "" {
		return errors.New("data dir not configured")
	}
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return err
	}
	baseAbs = filepath.Clean(baseAbs)

	dirs := map[string]struct{}{}
	for _, file := range files {
		fullPath, err := containedPath(baseAbs, file.Path)
		if err != nil {
			return err
		}
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		for dir := filepath.Dir(fullPath); dir != baseAbs && strings.HasPrefix(dir, baseAbs); dir = filepath.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}
	pruneEmptyDirs(dirs)
	return nil
}

func containedPath(baseAbs, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" || filepath.IsAbs(rel) {
		return "", errors.New("invalid file path")
	}
	fullPath := filepath.Clean(filepath.Join(baseAbs, filepath.FromSlash(rel)))
	if !strings.HasPrefix(fullPath, baseAbs+string(os.PathSeparator)) {
		return "", errors.New("invalid file path")
	}
	return fullPath, nil
}

// pruneEmptyDirs removes the deepest directories first; non-empty ones fail
// to remove and are kept.
func pruneEmptyDirs(dirs map[string]struct{}) {
	ordered := make([]string, 0, len(dirs))
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	for len(ordered) > 0 {
		deepest := 0
		for i, dir := range ordered {
			if len(dir) > len(ordered[deepest]) {
				deepest = i
			}
		}
		_ = os.Remove(ordered[deepest])
		ordered = append(ordered[:deepest], ordered[deepest+1:]...)
	}
}
