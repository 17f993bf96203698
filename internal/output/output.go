/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package output drives the host audio device through malgo (miniaudio). The
// device pulls: its data callback asks the mixer for exactly the frames the
// period needs and copies them out. The callback allocates nothing, takes no
// locks and never blocks; pause is a flag that turns the callback into a
// silence generator while the stream keeps running.
package output

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melisma/internal/mixer"
)

// DeviceState describes the driver's lifecycle state.
type DeviceState int32

const (
	StateStopped DeviceState = iota
	StatePlaying
	StatePaused
	StateError
)

func (s DeviceState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DeviceInfo identifies a selectable output device.
type DeviceInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Driver owns the malgo context and playback device.
type Driver struct {
	mixer      *mixer.Mixer
	sampleRate uint32
	logger     zerolog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	playing      atomic.Bool
	state        atomic.Int32
	framesOutput atomic.Uint64

	// scratch is reused across callbacks; sized on device init.
	scratch []float32

	// deviceRate is the rate the open device actually runs at. When it
	// differs from the working rate, resampler converts the mixer output
	// as the final stage before the device buffer.
	deviceRate  uint32
	resampler   beep.Streamer
	resampleBuf [][2]float64

	deviceID string
}

// mixerSource adapts the mixer to a beep.Streamer so the final-stage
// resampler can pull from it. The float32 scratch is preallocated; Stream
// never allocates.
type mixerSource struct {
	mixer *mixer.Mixer
	buf   []float32
}

func (s *mixerSource) Stream(samples [][2]float64) (int, bool) {
	frames := len(samples)
	if frames*2 > len(s.buf) {
		frames = len(s.buf) / 2
	}
	buf := s.buf[:frames*2]
	s.mixer.Produce(buf)
	for i := 0; i < frames; i++ {
		samples[i][0] = float64(buf[i*2])
		samples[i][1] = float64(buf[i*2+1])
	}
	return frames, true
}

func (s *mixerSource) Err() error { return nil }

// NewDriver initializes the malgo context. The device itself is created by
// Start so a missing device does not prevent boot.
func NewDriver(m *mixer.Mixer, sampleRate uint32, deviceID string, logger zerolog.Logger) (*Driver, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	return &Driver{
		mixer:      m,
		sampleRate: sampleRate,
		logger:     logger.With().Str("component", "audio_output").Logger(),
		ctx:        ctx,
		deviceID:   deviceID,
	}, nil
}

// Devices enumerates the available playback devices.
func (d *Driver) Devices() ([]DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	infos, err := d.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate playback devices: %w", err)
	}

	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, DeviceInfo{
			ID:        info.ID.String(),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}

// Start creates the device stream if needed and begins pulling from the
// mixer. Safe to call while paused to resume.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		if err := d.initDeviceLocked(); err != nil {
			d.state.Store(int32(StateError))
			return err
		}
		if err := d.device.Start(); err != nil {
			d.device.Uninit()
			d.device = nil
			d.state.Store(int32(StateError))
			return fmt.Errorf("start device: %w", err)
		}
	}

	d.playing.Store(true)
	d.state.Store(int32(StatePlaying))
	d.logger.Info().Msg("playback started")
	return nil
}

// Pause keeps the stream running but emits silence.
func (d *Driver) Pause() {
	d.playing.Store(false)
	if DeviceState(d.state.Load()) == StatePlaying {
		d.state.Store(int32(StatePaused))
	}
	d.logger.Info().Msg("playback paused")
}

// Stop drops the device stream and clears the stats.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.playing.Store(false)
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	d.framesOutput.Store(0)
	d.state.Store(int32(StateStopped))
	d.logger.Info().Msg("playback stopped")
}

// Close releases the device and the context.
func (d *Driver) Close() {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

// SetDevice switches to the identified output device. The stream is rebuilt;
// playback state is preserved.
func (d *Driver) SetDevice(id string) error {
	d.mu.Lock()
	wasPlaying := d.playing.Load()

	infos, err := d.ctx.Devices(malgo.Playback)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("enumerate playback devices: %w", err)
	}
	found := id == "" || id == "default"
	for _, info := range infos {
		if info.ID.String() == id {
			found = true
			break
		}
	}
	if !found {
		d.mu.Unlock()
		return fmt.Errorf("unknown device %q", id)
	}

	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	d.deviceID = id
	d.mu.Unlock()

	if wasPlaying {
		return d.Start()
	}
	return nil
}

// State returns the driver lifecycle state.
func (d *Driver) State() DeviceState {
	return DeviceState(d.state.Load())
}

// FramesOutput returns the cumulative frames delivered to the device.
func (d *Driver) FramesOutput() uint64 {
	return d.framesOutput.Load()
}

// IsPlaying reports whether the callback is producing audio.
func (d *Driver) IsPlaying() bool {
	return d.playing.Load()
}

// initDeviceLocked builds the playback device at the working rate.
func (d *Driver) initDeviceLocked() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 2
	cfg.SampleRate = d.sampleRate
	cfg.Alsa.NoMMap = 1

	if d.deviceID != "" && d.deviceID != "default" {
		infos, err := d.ctx.Devices(malgo.Playback)
		if err == nil {
			for i := range infos {
				if infos[i].ID.String() == d.deviceID {
					cfg.Playback.DeviceID = infos[i].ID.Pointer()
					break
				}
			}
		}
	}

	// Generous upper bound for a device period; miniaudio periods are
	// well below this at 44.1 kHz.
	d.scratch = make([]float32, d.sampleRate*2)

	callbacks := malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onDeviceStop,
	}

	device, err := malgo.InitDevice(d.ctx.Context, cfg, callbacks)
	if err != nil {
		// The preferred working rate was rejected; reopen at the
		// device's native rate and resample the mixer output to it as
		// the final stage.
		cfg.SampleRate = 0
		device, err = malgo.InitDevice(d.ctx.Context, cfg, callbacks)
		if err != nil {
			return fmt.Errorf("init playback device: %w", err)
		}
	}
	d.device = device
	d.deviceRate = device.SampleRate()

	if d.deviceRate != 0 && d.deviceRate != d.sampleRate {
		d.resampler = beep.Resample(4,
			beep.SampleRate(d.sampleRate),
			beep.SampleRate(d.deviceRate),
			&mixerSource{mixer: d.mixer, buf: make([]float32, d.sampleRate*2)})
		d.resampleBuf = make([][2]float64, d.deviceRate)
		d.logger.Info().
			Uint32("working_rate", d.sampleRate).
			Uint32("device_rate", d.deviceRate).
			Msg("device rate differs, resampling output")
	} else {
		d.resampler = nil
		d.resampleBuf = nil
	}

	d.logger.Info().
		Uint32("sample_rate", device.SampleRate()).
		Str("device", d.deviceID).
		Msg("playback device initialized")
	return nil
}

// onData is the realtime callback. The device hands a raw byte buffer; the
// mixer fills the float scratch and the loop below serializes it. Nothing
// here allocates, locks or logs.
func (d *Driver) onData(pOutput, _ []byte, frameCount uint32) {
	frames := int(frameCount)
	need := frames * 2

	if !d.playing.Load() || need > len(d.scratch) {
		for i := range pOutput {
			pOutput[i] = 0
		}
		return
	}

	if d.resampler != nil {
		if frames > len(d.resampleBuf) {
			for i := range pOutput {
				pOutput[i] = 0
			}
			return
		}
		n, _ := d.resampler.Stream(d.resampleBuf[:frames])
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(pOutput[i*8:], math.Float32bits(float32(d.resampleBuf[i][0])))
			binary.LittleEndian.PutUint32(pOutput[i*8+4:], math.Float32bits(float32(d.resampleBuf[i][1])))
		}
		for i := n * 8; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
		d.framesOutput.Add(uint64(n))
		return
	}

	buf := d.scratch[:need]
	d.mixer.Produce(buf)

	for i, sample := range buf {
		binary.LittleEndian.PutUint32(pOutput[i*4:], math.Float32bits(sample))
	}

	d.framesOutput.Add(uint64(frames))
}

// onDeviceStop fires when the backend tears the stream down (device lost).
// Transition to paused and preserve the queue; a later Start rebuilds.
func (d *Driver) onDeviceStop() {
	if DeviceState(d.state.Load()) == StatePlaying {
		d.playing.Store(false)
		d.state.Store(int32(StatePaused))
	}
}
