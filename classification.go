package engine

// FilePriority is the caller-assigned priority for one file in the
// torrent's layout. The core only distinguishes "wanted" from
// "skipped"; finer-grained priority tiers (e.g. high/normal/low) are a
// UI concern layered on top and out of the core's scope.
type FilePriority int

const (
	// FileWanted files are downloaded normally.
	FileWanted FilePriority = iota
	// FileSkipped files are never selected, but pieces overlapping them
	// may still need to be downloaded (see ClassificationBoundary).
	FileSkipped
)

// FileEntry describes one file's length and priority within a
// torrent's byte stream, in the order the metadata source lists them.
// This stands in for metainfo.FileInfo (see
// common/upverted_files.go's TorrentOffsetFileSegments), rebuilt
// locally because metainfo/segments weren't part of the retrieved pack.
type FileEntry struct {
	Length   int64
	Priority FilePriority
}

// FileLayout maps a torrent's flat byte stream to files and derives,
// for a given piece length and count, each piece's classification per
// wanted, blacklisted (all overlapping files skipped), or
// boundary (spans wanted and skipped files).
type FileLayout struct {
	files       []FileEntry
	offsets     []int64 // offsets[i] = start byte of files[i]
	totalLength int64
}

// NewFileLayout builds a layout from files in torrent order.
func NewFileLayout(files []FileEntry) *FileLayout {
	fl := &FileLayout{files: append([]FileEntry(nil), files...)}
	fl.offsets = make([]int64, len(files))
	var off int64
	for i, f := range files {
		fl.offsets[i] = off
		off += f.Length
	}
	fl.totalLength = off
	return fl
}

// TotalLength returns the sum of all file lengths.
func (fl *FileLayout) TotalLength() int64 { return fl.totalLength }

// SetPriority updates one file's priority by index. Changing it
// completed files cannot be retroactively skipped — callers are
// expected to enforce that above this layer (the core only knows byte
// ranges and priorities, not which files are already fully on disk).
func (fl *FileLayout) SetPriority(fileIndex int, p FilePriority) {
	fl.files[fileIndex].Priority = p
}

// pieceRange returns the half-open byte range [start, end) covered by
// piece i given pieceLength and the layout's total length (the last
// piece is shorter if totalLength isn't a multiple of pieceLength).
func (fl *FileLayout) pieceRange(i PieceIndex, pieceLength int64) (start, end int64) {
	start = int64(i) * pieceLength
	end = start + pieceLength
	if end > fl.totalLength {
		end = fl.totalLength
	}
	return
}

// Classify returns the classification of piece i.
func (fl *FileLayout) Classify(i PieceIndex, pieceLength int64) PieceClassification {
	start, end := fl.pieceRange(i, pieceLength)
	sawWanted, sawSkipped := false, false
	for idx, f := range fl.files {
		fStart := fl.offsets[idx]
		fEnd := fStart + f.Length
		if fEnd <= start || fStart >= end {
			continue // no overlap with this piece
		}
		if f.Priority == FileSkipped {
			sawSkipped = true
		} else {
			sawWanted = true
		}
		if sawWanted && sawSkipped {
			return ClassificationBoundary
		}
	}
	if sawWanted {
		return ClassificationWanted
	}
	if sawSkipped {
		return ClassificationBlacklisted
	}
	// No files overlap (e.g. piece beyond totalLength in a degenerate
	// layout); treat as wanted so it's never silently dropped.
	return ClassificationWanted
}

// WantedExtent returns the (offsetWithinPiece, length) sub-range of
// piece i that should actually be persisted: the whole piece for a
// wanted piece, the wanted sub-range only for a boundary piece. It is
// a programmer error to call this for a blacklisted piece, since the
// Scheduler never downloads those.
func (fl *FileLayout) WantedExtent(i PieceIndex, pieceLength int64) (offset, length int64) {
	start, end := fl.pieceRange(i, pieceLength)
	var wantedStart, wantedEnd int64 = -1, -1
	for idx, f := range fl.files {
		if f.Priority != FileWanted {
			continue
		}
		fStart := fl.offsets[idx]
		fEnd := fStart + f.Length
		if fEnd <= start || fStart >= end {
			continue
		}
		ovStart, ovEnd := fStart, fEnd
		if ovStart < start {
			ovStart = start
		}
		if ovEnd > end {
			ovEnd = end
		}
		if wantedStart == -1 || ovStart < wantedStart {
			wantedStart = ovStart
		}
		if ovEnd > wantedEnd {
			wantedEnd = ovEnd
		}
	}
	if wantedStart == -1 {
		// Entirely blacklisted; nothing to persist.
		return 0, 0
	}
	return wantedStart - start, wantedEnd - wantedStart
}
