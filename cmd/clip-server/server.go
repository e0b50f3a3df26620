package main

import (
	"errors"
	"strconv"

	http "github.com/valyala/fasthttp"
	"gorgonia.org/tensor"

	"github.com/banshee-data/clipstitch/internal/httputil"
	"github.com/banshee-data/clipstitch/internal/monitoring"
	"github.com/banshee-data/clipstitch/internal/vos/clip"
	"github.com/banshee-data/clipstitch/internal/vos/dataset"
	"github.com/banshee-data/clipstitch/internal/vos/sampler"
)

// tensorJSON is a tensor flattened in row-major order. uint8 data encodes
// as base64.
type tensorJSON struct {
	Shape []int       `json:"shape"`
	Dtype string      `json:"dtype"`
	Data  interface{} `json:"data"`
}

// bundle is the wire form of a clip.Sample.
type bundle struct {
	Images        tensorJSON `json:"images"`
	RawMasks      tensorJSON `json:"raw_masks"`
	MasksGuidance tensorJSON `json:"masks_guidance"`
	MasksVoid     tensorJSON `json:"masks_void"`
	Info          clip.Info  `json:"info"`
}

type sequenceJSON struct {
	Name       string `json:"name"`
	NumFrames  int    `json:"num_frames"`
	NumObjects int    `json:"num_objects"`
	GTFrames   []int  `json:"gt_frames"`
}

func encodeTensor(d *tensor.Dense) tensorJSON {
	return tensorJSON{Shape: []int(d.Shape().Clone()), Dtype: d.Dtype().String(), Data: d.Data()}
}

func newBundle(s *clip.Sample) *bundle {
	return &bundle{
		Images:        encodeTensor(s.Images),
		RawMasks:      encodeTensor(s.RawMasks),
		MasksGuidance: encodeTensor(s.MasksGuidance),
		MasksVoid:     encodeTensor(s.MasksVoid),
		Info:          s.Info,
	}
}

type server struct {
	ds      *clip.Dataset
	verbose bool
}

func (s *server) handle(c *http.RequestCtx) {
	if s.verbose {
		monitoring.Logf("%s %s", c.Method(), c.URI().RequestURI())
	}
	if !c.IsGet() {
		httputil.MethodNotAllowed(c)
		return
	}
	switch string(c.Path()) {
	case "/sample":
		s.handleSample(c)
	case "/sequences":
		s.handleSequences(c)
	default:
		httputil.NotFound(c, "not found")
	}
}

func (s *server) handleSample(c *http.RequestCtx) {
	args := c.QueryArgs()
	var (
		sample *clip.Sample
		err    error
	)
	if seq := args.Peek("sequence"); len(seq) > 0 {
		frame, perr := strconv.Atoi(string(args.Peek("frame")))
		if perr != nil {
			httputil.BadRequest(c, "frame must be an integer")
			return
		}
		sample, err = s.ds.GetFrame(string(seq), frame)
	} else {
		item, perr := strconv.Atoi(string(args.Peek("item")))
		if perr != nil {
			httputil.BadRequest(c, "item or sequence is required")
			return
		}
		sample, err = s.ds.Get(item)
	}
	if err != nil {
		monitoring.Logf("Err [sample] %v", err)
		httputil.WriteJSONError(c, statusFor(err), err.Error())
		return
	}
	httputil.WriteJSONOK(c, newBundle(sample))
}

func (s *server) handleSequences(c *http.RequestCtx) {
	seqs := s.ds.Registry().Sequences()
	out := make([]sequenceJSON, len(seqs))
	for i, seq := range seqs {
		out[i] = sequenceJSON{Name: seq.Name, NumFrames: seq.NumFrames, NumObjects: seq.NumObjects, GTFrames: seq.GTFrames}
	}
	httputil.WriteJSONOK(c, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, clip.ErrUnknownSequence):
		return http.StatusNotFound
	case errors.Is(err, dataset.ErrItemOutOfRange), errors.Is(err, sampler.ErrIndexOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
