// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package memory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// Size implements a size in bytes with human friendly formatting.
type Size int64

// base 2 sizes
const (
	B   Size = 1
	KiB      = B << 10
	MiB      = KiB << 10
	GiB      = MiB << 10
	TiB      = GiB << 10
)

// base 10 sizes
const (
	KB = B * 1e3
	MB = KB * 1e3
	GB = MB * 1e3
	TB = GB * 1e3
)

// Int returns bytes size as int.
func (size Size) Int() int { return int(size) }

// Int64 returns bytes size as int64.
func (size Size) Int64() int64 { return int64(size) }

// String converts size to a string using base 2 suffixes.
func (size Size) String() string {
	if size == 0 {
		return "0"
	}

	switch {
	case size >= TiB:
		return fmt.Sprintf("%.1f TiB", size.TiB())
	case size >= GiB:
		return fmt.Sprintf("%.1f GiB", size.GiB())
	case size >= MiB:
		return fmt.Sprintf("%.1f MiB", size.MiB())
	case size >= KiB:
		return fmt.Sprintf("%.1f KiB", size.KiB())
	}
	return strconv.FormatInt(size.Int64(), 10) + " B"
}

// KiB returns size in kibibytes.
func (size Size) KiB() float64 { return float64(size) / KiB.Float64() }

// MiB returns size in mebibytes.
func (size Size) MiB() float64 { return float64(size) / MiB.Float64() }

// GiB returns size in gibibytes.
func (size Size) GiB() float64 { return float64(size) / GiB.Float64() }

// TiB returns size in tebibytes.
func (size Size) TiB() float64 { return float64(size) / TiB.Float64() }

// Float64 returns bytes size as float64.
func (size Size) Float64() float64 { return float64(size) }

// Parse parses a size string with an optional base 2 suffix.
func Parse(s string) (Size, error) {
	value := strings.TrimSpace(s)
	suffix := ""
	for _, known := range []string{"TiB", "GiB", "MiB", "KiB", "TB", "GB", "MB", "KB", "B"} {
		if strings.HasSuffix(value, known) {
			suffix = known
			value = strings.TrimSpace(strings.TrimSuffix(value, known))
			break
		}
	}

	multiplier := B
	switch suffix {
	case "", "B":
	case "KB", "KiB":
		multiplier = KiB
	case "MB", "MiB":
		multiplier = MiB
	case "GB", "GiB":
		multiplier = GiB
	case "TB", "TiB":
		multiplier = TiB
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errs.New("invalid size %q: %v", s, err)
	}

	return Size(v * multiplier.Float64()), nil
}

// Set implements flag.Value interface.
func (size *Size) Set(s string) error {
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*size = parsed
	return nil
}

// Type implements pflag.Value interface.
func (size Size) Type() string { return "memory.Size" }
