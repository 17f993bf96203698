/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melisma/internal/timing"
)

// chunkFrames is the number of frames decoded per loop iteration. Yield
// checks, cancellation and watermark hysteresis all happen at these
// boundaries so the resampler state is never split mid-chunk.
const chunkFrames = 1024

// hysteresisPoll is how long a parked producer sleeps before re-checking the
// low watermark.
const hysteresisPoll = 10 * time.Millisecond

// SupportedExtension reports whether the pool can decode the file type.
func SupportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".flac", ".ogg", ".oga", ".wav":
		return true
	default:
		return false
	}
}

// openStream probes the file by extension and returns a seekable decoder.
func openStream(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open %s: %w", path, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	case ".ogg", ".oga":
		streamer, format, err = vorbis.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported format: %s", filepath.Ext(path))
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("probe %s: %w", path, err)
	}
	return streamer, format, nil
}

// decode runs one passage from open to completion. Fatal open and probe
// errors are returned (the caller marks the buffer failed). A mid-stream
// decode error ends the passage at that point, the same way end of file
// does: the frames decoded so far are kept, and decoding does not resume
// past the bad data.
func (p *Pool) decode(req Request, logger zerolog.Logger) error {
	streamer, format, err := openStream(req.Passage.FilePath)
	if err != nil {
		return err
	}
	defer streamer.Close()

	sourceRate := uint32(format.SampleRate)

	// Coarse seek to the passage start in the source file's time base.
	if req.Passage.StartTick > 0 {
		startFrame := timing.TicksToSamples(req.Passage.StartTick, sourceRate)
		if err := streamer.Seek(int(startFrame)); err != nil {
			return fmt.Errorf("seek to start: %w", err)
		}
	}

	// Resample to the working rate when the source differs. The seek above
	// happens first because the resampler wrapper is not seekable.
	var src beep.Streamer = streamer
	if sourceRate != p.sampleRate {
		logger.Debug().
			Uint32("from", sourceRate).
			Uint32("to", p.sampleRate).
			Msg("resampling")
		src = beep.Resample(4, format.SampleRate, beep.SampleRate(p.sampleRate), streamer)
	}

	// Frames to emit at the working rate, when the passage end is defined.
	limitFrames := int64(-1)
	if req.Passage.EndTick != nil {
		limitFrames = timing.TicksToSamples(*req.Passage.EndTick-req.Passage.StartTick, p.sampleRate)
	}

	chunk := make([][2]float64, chunkFrames)
	interleaved := make([]float32, chunkFrames*2)
	framesOut := int64(0)

	for {
		select {
		case <-req.Ctx.Done():
			logger.Debug().Str("queue_entry", req.QueueEntryID.String()).Msg("decode cancelled")
			req.Buffer.MarkComplete()
			return nil
		default:
		}

		// Priority gate: a queued Immediate request pre-empts prefetch
		// work at chunk boundaries.
		for p.shouldYield(req.Priority) {
			select {
			case <-req.Ctx.Done():
				req.Buffer.MarkComplete()
				return nil
			case <-time.After(hysteresisPoll):
			}
		}

		want := int64(len(chunk))
		if limitFrames >= 0 && framesOut+want > limitFrames {
			want = limitFrames - framesOut
		}
		if want <= 0 {
			break
		}

		n, _ := src.Stream(chunk[:want])
		if n == 0 {
			if err := streamer.Err(); err != nil {
				// A broken tail packet; treat the stream as ended.
				logger.Warn().Err(err).
					Str("file", req.Passage.FilePath).
					Msg("decode error at end of stream")
			}
			break
		}

		for i := 0; i < n; i++ {
			interleaved[i*2] = float32(chunk[i][0])
			interleaved[i*2+1] = float32(chunk[i][1])
		}

		if err := p.pushAll(req, interleaved[:n*2]); err != nil {
			req.Buffer.MarkComplete()
			return nil // cancelled while parked on the watermark
		}
		framesOut += int64(n)
	}

	// Publish the discovered endpoint before completion so any consumer
	// that observes the completed flag also observes the endpoint.
	if req.Passage.EndTick == nil {
		endTick := req.Passage.StartTick + timing.SamplesToTicks(framesOut, p.sampleRate)
		req.Buffer.SetDiscoveredEndTick(endTick)
		if req.OnDiscoveredEnd != nil {
			req.OnDiscoveredEnd(req.QueueEntryID, endTick)
		}
		logger.Debug().
			Int64("end_tick", endTick).
			Int64("frames", framesOut).
			Msg("endpoint discovered")
	}

	req.Buffer.MarkComplete()
	logger.Debug().
		Str("queue_entry", req.QueueEntryID.String()).
		Int64("frames", framesOut).
		Msg("passage decoded")
	return nil
}

// pushAll writes the chunk into the ring buffer, parking on the watermark
// hysteresis when the buffer is full: stop pushing at the high watermark,
// resume below the low watermark. Returns an error only on cancellation.
func (p *Pool) pushAll(req Request, samples []float32) error {
	for len(samples) > 0 {
		if req.Buffer.AboveHighWatermark() {
			for !req.Buffer.BelowLowWatermark() {
				select {
				case <-req.Ctx.Done():
					return req.Ctx.Err()
				case <-time.After(hysteresisPoll):
				}
			}
		}

		accepted := req.Buffer.Push(samples)
		samples = samples[accepted*2:]

		if accepted == 0 {
			select {
			case <-req.Ctx.Done():
				return req.Ctx.Err()
			case <-time.After(hysteresisPoll):
			}
		}
	}
	return nil
}
