/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/melisma/internal/models"
	"github.com/friendsincode/melisma/internal/passage"
	"github.com/friendsincode/melisma/internal/queue"
)

// QueueStore persists queue mutations and restores the queue at bootstrap.
// It implements queue.Notifier; writes happen on the caller's goroutine and
// are deliberately simple row operations, never inside the manager lock.
type QueueStore struct {
	db     *gorm.DB
	logger zerolog.Logger

	mu        sync.Mutex
	nextOrder int64
}

// NewQueueStore creates the persistence collaborator.
func NewQueueStore(db *gorm.DB, logger zerolog.Logger) *QueueStore {
	return &QueueStore{
		db:     db,
		logger: logger.With().Str("component", "queue_store").Logger(),
	}
}

// Load returns the persisted queue ordered by play order.
func (q *QueueStore) Load() ([]queue.Entry, error) {
	var rows []models.QueueEntryRow
	if err := q.db.Order("play_order ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]queue.Entry, 0, len(rows))
	maxOrder := int64(0)
	for _, row := range rows {
		entry, err := entryFromRow(row)
		if err != nil {
			q.logger.Warn().Err(err).Str("guid", row.GUID).Msg("skipping corrupt queue row")
			continue
		}
		if row.PlayOrder > maxOrder {
			maxOrder = row.PlayOrder
		}
		entries = append(entries, entry)
	}

	q.mu.Lock()
	q.nextOrder = maxOrder + 10
	q.mu.Unlock()

	return entries, nil
}

// NextPlayOrder allocates a sort key for a new entry.
func (q *QueueStore) NextPlayOrder() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	order := q.nextOrder
	q.nextOrder += 10
	return order
}

// QueueEntryAdded persists a newly enqueued entry.
func (q *QueueStore) QueueEntryAdded(e queue.Entry) {
	row := rowFromEntry(e)
	if err := q.db.Create(&row).Error; err != nil {
		q.logger.Error().Err(err).Str("guid", row.GUID).Msg("persist enqueue failed")
	}
}

// QueueEntryRemoved deletes the persisted row.
func (q *QueueStore) QueueEntryRemoved(id uuid.UUID) {
	if err := q.db.Delete(&models.QueueEntryRow{}, "guid = ?", id.String()).Error; err != nil {
		q.logger.Error().Err(err).Str("guid", id.String()).Msg("persist remove failed")
	}
}

// QueueAdvanced drops rows that have been consumed: everything with a play
// order below the new current entry.
func (q *QueueStore) QueueAdvanced(newCurrent *queue.Entry) {
	if newCurrent == nil {
		if err := q.db.Where("1 = 1").Delete(&models.QueueEntryRow{}).Error; err != nil {
			q.logger.Error().Err(err).Msg("persist queue drain failed")
		}
		return
	}
	err := q.db.Where("play_order < ?", newCurrent.PlayOrder).
		Delete(&models.QueueEntryRow{}).Error
	if err != nil {
		q.logger.Error().Err(err).Msg("persist advance failed")
	}
}

// QueueCleared empties the persisted queue.
func (q *QueueStore) QueueCleared() {
	if err := q.db.Where("1 = 1").Delete(&models.QueueEntryRow{}).Error; err != nil {
		q.logger.Error().Err(err).Msg("persist clear failed")
	}
}

func rowFromEntry(e queue.Entry) models.QueueEntryRow {
	row := models.QueueEntryRow{
		GUID:         e.QueueEntryID.String(),
		FilePath:     e.Passage.FilePath,
		PlayOrder:    e.PlayOrder,
		StartTick:    e.Passage.StartTick,
		EndTick:      e.Passage.EndTick,
		LeadInTick:   e.Passage.LeadInTick,
		LeadOutTick:  e.Passage.LeadOutTick,
		FadeInTick:   e.Passage.FadeInTick,
		FadeOutTick:  e.Passage.FadeOutTick,
		FadeInCurve:  string(e.Passage.FadeInCurve),
		FadeOutCurve: string(e.Passage.FadeOutCurve),
	}
	if e.Passage.PassageID != nil {
		s := e.Passage.PassageID.String()
		row.PassageGUID = &s
	}
	return row
}

func entryFromRow(row models.QueueEntryRow) (queue.Entry, error) {
	id, err := uuid.Parse(row.GUID)
	if err != nil {
		return queue.Entry{}, err
	}

	p := passage.Passage{
		FilePath:     row.FilePath,
		StartTick:    row.StartTick,
		EndTick:      row.EndTick,
		LeadInTick:   row.LeadInTick,
		LeadOutTick:  row.LeadOutTick,
		FadeInTick:   row.FadeInTick,
		FadeOutTick:  row.FadeOutTick,
		FadeInCurve:  passage.ParseCurve(row.FadeInCurve, passage.CurveExponential),
		FadeOutCurve: passage.ParseCurve(row.FadeOutCurve, passage.CurveLogarithmic),
	}
	if row.PassageGUID != nil {
		pid, err := uuid.Parse(*row.PassageGUID)
		if err == nil {
			p.PassageID = &pid
		}
	}

	return queue.Entry{
		QueueEntryID: id,
		Passage:      p,
		PlayOrder:    row.PlayOrder,
	}, nil
}
