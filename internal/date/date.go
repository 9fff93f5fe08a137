// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package date provides time calculations for usage windowing.
package date

import "time"

// StartOfDay returns the beginning of the UTC calendar day containing t.
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfRollingWindow returns the instant one window length before t.
func StartOfRollingWindow(t time.Time, window time.Duration) time.Time {
	return t.Add(-window)
}
