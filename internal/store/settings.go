/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/melisma/internal/models"
	"github.com/friendsincode/melisma/internal/passage"
	"github.com/friendsincode/melisma/internal/timing"
)

// Settings keys. Values are written back on first read so a fresh database
// ends up fully populated with defaults.
const (
	keyVolume            = "volume_level"
	keyAudioDevice       = "audio_sink"
	keyCrossfadeTime     = "global_crossfade_time_ticks"
	keyFadeCurve         = "global_fade_curve"
	keyAudioBufferSize   = "audio_buffer_size"
	keyMixerInterval     = "mixer_check_interval_ms"
	keyMinBufferMs       = "minimum_buffer_threshold_ms"
	keyGracePeriodMs     = "audio_ring_buffer_grace_period_ms"
	keyLastPositionTicks = "last_played_position_ticks"
	keyLastQueueEntryID  = "last_played_queue_entry_id"
)

// Defaults applied when a key is missing.
const (
	defaultVolume          = 0.5
	defaultAudioDevice     = "default"
	defaultAudioBufferSize = 1024
	defaultMixerIntervalMs = 10
	defaultMinBufferMs     = 100
	defaultGracePeriodMs   = 500
)

// Settings reads and writes the global key-value settings table.
type Settings struct {
	db *gorm.DB
}

// NewSettings wraps the database handle.
func NewSettings(db *gorm.DB) *Settings {
	return &Settings{db: db}
}

// Volume returns the stored volume clamped to [0,1], seeding the default.
func (s *Settings) Volume() (float64, error) {
	raw, ok, err := s.get(keyVolume)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := s.set(keyVolume, formatFloat(defaultVolume)); err != nil {
			return 0, err
		}
		return defaultVolume, nil
	}
	vol, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultVolume, nil
	}
	return clampUnit(vol), nil
}

// SetVolume stores the volume, clamped to [0,1].
func (s *Settings) SetVolume(volume float64) error {
	return s.set(keyVolume, formatFloat(clampUnit(volume)))
}

// AudioDevice returns the persisted output device identifier.
func (s *Settings) AudioDevice() (string, error) {
	raw, ok, err := s.get(keyAudioDevice)
	if err != nil {
		return "", err
	}
	if !ok {
		if err := s.set(keyAudioDevice, defaultAudioDevice); err != nil {
			return "", err
		}
		return defaultAudioDevice, nil
	}
	return raw, nil
}

// SetAudioDevice persists the output device identifier.
func (s *Settings) SetAudioDevice(id string) error {
	return s.set(keyAudioDevice, id)
}

// CrossfadeTimeTicks returns the global crossfade time, default 2 seconds.
func (s *Settings) CrossfadeTimeTicks() (int64, error) {
	return s.getInt(keyCrossfadeTime, 2*timing.TicksPerSecond)
}

// SetCrossfadeTimeTicks stores the global crossfade time.
func (s *Settings) SetCrossfadeTimeTicks(ticks int64) error {
	if ticks < 0 {
		ticks = 0
	}
	return s.set(keyCrossfadeTime, strconv.FormatInt(ticks, 10))
}

// FadeCurve returns the global default fade curve.
func (s *Settings) FadeCurve() (passage.Curve, error) {
	raw, ok, err := s.get(keyFadeCurve)
	if err != nil {
		return passage.CurveExponential, err
	}
	if !ok {
		if err := s.set(keyFadeCurve, string(passage.CurveExponential)); err != nil {
			return passage.CurveExponential, err
		}
		return passage.CurveExponential, nil
	}
	return passage.ParseCurve(raw, passage.CurveExponential), nil
}

// AudioBufferSize returns frames per host callback period.
func (s *Settings) AudioBufferSize() (int, error) {
	v, err := s.getInt(keyAudioBufferSize, defaultAudioBufferSize)
	return int(v), err
}

// MixerCheckIntervalMs returns the mixer scheduling interval.
func (s *Settings) MixerCheckIntervalMs() (int, error) {
	v, err := s.getInt(keyMixerInterval, defaultMixerIntervalMs)
	return int(v), err
}

// MinimumBufferMs returns how much audio must be buffered before playback of
// a passage may begin.
func (s *Settings) MinimumBufferMs() (int, error) {
	v, err := s.getInt(keyMinBufferMs, defaultMinBufferMs)
	return int(v), err
}

// GracePeriodMs returns the ring buffer grace period.
func (s *Settings) GracePeriodMs() (int, error) {
	v, err := s.getInt(keyGracePeriodMs, defaultGracePeriodMs)
	return int(v), err
}

// SavePosition checkpoints the playback position.
func (s *Settings) SavePosition(positionTicks int64) error {
	return s.set(keyLastPositionTicks, strconv.FormatInt(positionTicks, 10))
}

// LastPosition returns the checkpointed position, if any.
func (s *Settings) LastPosition() (int64, bool, error) {
	raw, ok, err := s.get(keyLastPositionTicks)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// SaveLastQueueEntry records the queue entry being played, or clears the key
// when id is nil.
func (s *Settings) SaveLastQueueEntry(id *uuid.UUID) error {
	if id == nil {
		return s.db.Delete(&models.Setting{}, "key = ?", keyLastQueueEntryID).Error
	}
	return s.set(keyLastQueueEntryID, id.String())
}

// LastQueueEntry returns the persisted queue pointer, if any.
func (s *Settings) LastQueueEntry() (*uuid.UUID, error) {
	raw, ok, err := s.get(keyLastQueueEntryID)
	if err != nil || !ok {
		return nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}
	return &id, nil
}

func (s *Settings) get(key string) (string, bool, error) {
	var row models.Setting
	err := s.db.First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *Settings) set(key, value string) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.Setting{Key: key, Value: value}).Error
}

func (s *Settings) getInt(key string, def int64) (int64, error) {
	raw, ok, err := s.get(key)
	if err != nil {
		return def, err
	}
	if !ok {
		if err := s.set(key, strconv.FormatInt(def, 10)); err != nil {
			return def, err
		}
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def, nil
	}
	return v, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
