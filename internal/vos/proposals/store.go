package proposals

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/clipstitch/internal/fsutil"
)

// FileExt is the extension of proposal files.
const FileExt = ".props"

const formatVersion = 1

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// envelope is the on-disk form of a Proposals, before compression.
// Masks use the portable roaring serialization.
type envelope struct {
	Version  int       `json:"version"`
	H        int       `json:"h"`
	W        int       `json:"w"`
	Fields   []string  `json:"fields"`
	Masks    [][]byte  `json:"masks,omitempty"`
	Scores   []float64 `json:"scores,omitempty"`
	TrackIDs []int     `json:"track_ids,omitempty"`
	IoUs     []float64 `json:"ious,omitempty"`
}

// Marshal encodes p as a zstd-compressed JSON envelope.
func Marshal(p *Proposals) ([]byte, error) {
	env := envelope{
		Version:  formatVersion,
		H:        p.H,
		W:        p.W,
		Fields:   p.Fields(),
		Scores:   p.scores,
		TrackIDs: p.trackIDs,
		IoUs:     p.ious,
	}
	for i, m := range p.masks {
		b, err := m.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("serialize mask %d: %w", i, err)
		}
		env.Masks = append(env.Masks, b)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode proposals: %w", err)
	}
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)
	return enc.EncodeAll(raw, nil), nil
}

// Unmarshal decodes data written by Marshal.
func Unmarshal(data []byte) (*Proposals, error) {
	dec := getZstdDecoder()
	defer putZstdDecoder(dec)
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress proposals: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode proposals: %w", err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("unsupported proposal format version %d", env.Version)
	}

	p := New(env.H, env.W)
	for _, f := range env.Fields {
		var err error
		switch f {
		case FieldMask:
			masks := make([]*roaring.Bitmap, len(env.Masks))
			for i, b := range env.Masks {
				masks[i] = roaring.New()
				if err := masks[i].UnmarshalBinary(b); err != nil {
					return nil, fmt.Errorf("mask %d: %w", i, err)
				}
			}
			err = p.SetMasks(masks)
		case FieldScores:
			err = p.SetScores(nonNil(env.Scores))
		case FieldTrackIDs:
			ids := env.TrackIDs
			if ids == nil {
				ids = []int{}
			}
			err = p.SetTrackIDs(ids)
		case FieldIoUs:
			err = p.SetIoUs(nonNil(env.IoUs))
		default:
			err = fmt.Errorf("unknown field %q", f)
		}
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

// Store reads and writes proposal files laid out as
// <dir>/<sequence>/<frame %05d>.props.
type Store struct {
	fs  fsutil.FileSystem
	dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(fsys fsutil.FileSystem, dir string) *Store {
	return &Store{fs: fsys, dir: dir}
}

// Path is the file holding frame of seq.
func (s *Store) Path(seq string, frame int) string {
	return filepath.Join(s.dir, seq, fmt.Sprintf("%05d", frame)+FileExt)
}

// Load reads the proposals of one frame.
func (s *Store) Load(seq string, frame int) (*Proposals, error) {
	path := s.Path(seq, frame)
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proposals: %w", err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Save writes the proposals of one frame, creating the sequence directory.
func (s *Store) Save(seq string, frame int, p *Proposals) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Join(s.dir, seq), 0o755); err != nil {
		return fmt.Errorf("create proposal dir: %w", err)
	}
	if err := s.fs.WriteFile(s.Path(seq, frame), data, 0o644); err != nil {
		return fmt.Errorf("write proposals: %w", err)
	}
	return nil
}

// Frames lists the frame numbers stored for seq in ascending order.
func (s *Store) Frames(seq string) ([]int, error) {
	entries, err := s.fs.ReadDir(filepath.Join(s.dir, seq))
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	var frames []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, FileExt) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, FileExt))
		if err != nil {
			continue
		}
		frames = append(frames, n)
	}
	sort.Ints(frames)
	return frames, nil
}
