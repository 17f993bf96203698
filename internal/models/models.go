/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Setting is a row in the global key-value settings table. All settings are
// system-wide; values are stored as strings and parsed by the accessors in
// the store package.
type Setting struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

// QueueEntryRow is the persisted form of a queue entry. Timing columns are
// ticks; NULL means "not set" (the decoder discovers the end, or the global
// default applies).
type QueueEntryRow struct {
	GUID        string  `gorm:"primaryKey;size:36"`
	PassageGUID *string `gorm:"size:36;index"`
	FilePath    string  `gorm:"not null"`
	PlayOrder   int64   `gorm:"index;not null"`

	StartTick   int64
	EndTick     *int64
	LeadInTick  int64
	LeadOutTick *int64
	FadeInTick  int64
	FadeOutTick *int64

	FadeInCurve  string `gorm:"size:16"`
	FadeOutCurve string `gorm:"size:16"`

	CreatedAt time.Time
}

// TableName keeps the table name stable regardless of gorm pluralization.
func (QueueEntryRow) TableName() string { return "queue_entries" }

// All returns every model that participates in auto-migration.
func All() []any {
	return []any{
		&Setting{},
		&QueueEntryRow{},
	}
}
