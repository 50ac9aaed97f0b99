package casc

import (
	"context"
	"encoding/binary"
	"io"
	"io/ioutil"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lukegb/casc/ngdp/binfield"
)

// IndexRecord is one shard record: it maps a truncated encoded key to
// the archive and byte offset it lives at, and its on-disk (encoded)
// size.
type IndexRecord struct {
	EKey9       EKey9
	Archive     uint32
	Offset      uint64
	EncodedSize uint32
}

// indexHeader is the small fixed-width prefix every shard file begins
// with, naming the widths of the fields that follow. Real widths are
// always ExtraBytes=?, SpanSizeBytes=5, SpanOffsBytes=5, KeyBytes=9,
// FileOffsetBits=30, but the parser reads them rather than assuming
// them, exactly as the format's own self-description implies.
type indexHeader struct {
	ExtraBytes     uint8
	SpanSizeBytes  uint8
	SpanOffsBytes  uint8
	KeyBytes       uint8
	FileOffsetBits uint
}

const indexHeaderFixedSize = 8

func parseIndexHeader(r io.Reader) (*indexHeader, error) {
	buf := make([]byte, indexHeaderFixedSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errf(CodeBadFormat, "reading index header: %v", err)
	}
	h := &indexHeader{
		ExtraBytes:     buf[0],
		SpanSizeBytes:  buf[1],
		SpanOffsBytes:  buf[2],
		KeyBytes:       buf[3],
		FileOffsetBits: uint(buf[4]),
	}
	if h.KeyBytes != 9 {
		return nil, errf(CodeBadFormat, "index shard KeyBytes=%d, only 9 (EKey9) is supported", h.KeyBytes)
	}
	if h.FileOffsetBits == 0 || h.FileOffsetBits >= uint(h.SpanOffsBytes)*8 {
		return nil, errf(CodeBadFormat, "index shard FileOffsetBits=%d is not valid for a %d-byte offset field", h.FileOffsetBits, h.SpanOffsBytes)
	}
	if h.ExtraBytes > 0 {
		if _, err := io.CopyN(ioutil.Discard, r, int64(h.ExtraBytes)); err != nil {
			return nil, errf(CodeBadFormat, "reading index header extra bytes: %v", err)
		}
	}
	return h, nil
}

// ParseIndexShard reads one *.idx shard in full, returning its records
// sorted by EKey9. Records naming an archive index at or beyond
// maxArchive are dropped, per the index-file parser's edge-case rule.
func ParseIndexShard(r io.Reader, maxArchive uint32) ([]IndexRecord, error) {
	h, err := parseIndexHeader(r)
	if err != nil {
		return nil, err
	}

	// encoded_size is always a fixed 4-byte little-endian field
	// (CASC_EKEY_ENTRY.EncodedSize), independent of the header's
	// SpanSizeBytes, which is read but not used here; the offset
	// field's width comes from SpanOffsBytes. Treating SpanSizeBytes
	// as the size field's width desyncs every record after the first
	// whenever it's not 4.
	const encodedSizeBytes = 4
	recordSize := int(h.KeyBytes) + int(h.SpanOffsBytes) + encodedSizeBytes
	buf := make([]byte, recordSize)

	var records []IndexRecord
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF {
				break
			}
			// io.ErrUnexpectedEOF: the shard ends inside a record.
			return nil, errf(CodeBadFormat, "reading index record: %v", err)
		}

		var e9 EKey9
		copy(e9[:], buf[0:9])

		archive, offset := binfield.SplitArchiveOffset(buf[9:9+int(h.SpanOffsBytes)], h.FileOffsetBits)
		sizeOff := 9 + int(h.SpanOffsBytes)
		encodedSize := binary.LittleEndian.Uint32(buf[sizeOff : sizeOff+encodedSizeBytes])

		if archive >= maxArchive {
			continue
		}

		records = append(records, IndexRecord{
			EKey9:       e9,
			Archive:     archive,
			Offset:      offset,
			EncodedSize: encodedSize,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].EKey9.Less(records[j].EKey9)
	})

	return records, nil
}

// IndexAggregator is the merged view of every shard: one logical table
// ekey9 -> (archive, offset, encoded_size), sorted by EKey9 for binary
// search.
type IndexAggregator struct {
	records []IndexRecord
}

// NewIndexAggregator merges already-parsed, per-shard record slices in
// the order given, applying first-insertion-wins for any EKey9 that
// appears in more than one shard. The order argument is itself the
// deterministic merge order the concurrency model requires: callers
// that parse shards in parallel must still pass results back in a
// fixed, repeatable order (e.g. shard index).
func NewIndexAggregator(shards [][]IndexRecord) *IndexAggregator {
	seen := make(map[EKey9]bool)
	var merged []IndexRecord
	for _, shard := range shards {
		for _, rec := range shard {
			if seen[rec.EKey9] {
				continue
			}
			seen[rec.EKey9] = true
			merged = append(merged, rec)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].EKey9.Less(merged[j].EKey9)
	})
	return &IndexAggregator{records: merged}
}

// Lookup finds the archive/offset/encoded-size for a truncated EKey.
func (a *IndexAggregator) Lookup(e9 EKey9) (IndexRecord, bool) {
	i := sort.Search(len(a.records), func(n int) bool {
		return !a.records[n].EKey9.Less(e9)
	})
	if i >= len(a.records) || !a.records[i].EKey9.Equal(e9) {
		return IndexRecord{}, false
	}
	return a.records[i], true
}

// Len reports how many distinct EKey9s the aggregator knows about.
func (a *IndexAggregator) Len() int { return len(a.records) }

// packArchiveOffset combines an archive index and byte offset into the
// single u64 an Entry's StorageOffset field carries.
func packArchiveOffset(archive uint32, offset uint64) uint64 {
	return uint64(archive)<<40 | offset
}

// UnpackArchiveOffset splits an Entry's StorageOffset back into an
// archive index and byte offset.
func UnpackArchiveOffset(v uint64) (archive uint32, offset uint64) {
	return uint32(v >> 40), v & ((uint64(1) << 40) - 1)
}

// ShardSource names one shard to be parsed, in the deterministic order
// its results must be merged in.
type ShardSource struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// LoadIndexShards parses every named shard - concurrently, one errgroup
// goroutine per shard, with no limit on how many run at once - and
// merges them into one IndexAggregator. Failure to load any single
// shard is fatal to the whole load, per the aggregator's contract; a
// shard with an invalid header or a record cut short by end of file
// fails the same way. The shard header carries no magic, so no magic
// check is made. Results are merged in the order shards was given,
// regardless of which goroutine finishes first.
func LoadIndexShards(ctx context.Context, shards []ShardSource, maxArchive uint32) (*IndexAggregator, error) {
	results := make([][]IndexRecord, len(shards))

	g, ctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			rc, err := shard.Open()
			if err != nil {
				return errors.Wrapf(err, "opening index shard %s", shard.Name)
			}
			defer rc.Close()

			recs, err := ParseIndexShard(rc, maxArchive)
			if err != nil {
				return errors.Wrapf(err, "parsing index shard %s", shard.Name)
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewIndexAggregator(results), nil
}
