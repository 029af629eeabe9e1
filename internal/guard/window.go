package guard

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WindowConfig bounds trading to a local-time window. Start and End are
// "HH:MM" in the configured zone; End before Start means the window wraps
// midnight. Both bounds are inclusive.
type WindowConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
}

const (
	defaultTimezone    = "Europe/London"
	defaultWindowStart = "00:00"
	defaultWindowEnd   = "23:59"
)

// Validate rejects clock bounds that would make InWindow fall back to
// allowing everything. Called at config load so a typo like "2200" is
// fatal instead of silently disabling the window guard.
func (c WindowConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Start != "" {
		if _, err := parseClock(c.Start); err != nil {
			return fmt.Errorf("trading_hours start: %w", err)
		}
	}
	if c.End != "" {
		if _, err := parseClock(c.End); err != nil {
			return fmt.Errorf("trading_hours end: %w", err)
		}
	}
	return nil
}

// InWindow reports whether now falls inside the configured window, along
// with the diagnostics the guard records either way. A disabled window
// always passes; an unknown timezone falls back to UTC rather than block.
func InWindow(cfg WindowConfig, now time.Time) (bool, map[string]any) {
	if !cfg.Enabled {
		return true, map[string]any{"trading_hours_enabled": false}
	}

	tzname := cfg.Timezone
	if tzname == "" {
		tzname = defaultTimezone
	}
	loc, err := time.LoadLocation(tzname)
	if err != nil {
		loc = time.UTC
	}

	start := cfg.Start
	if start == "" {
		start = defaultWindowStart
	}
	end := cfg.End
	if end == "" {
		end = defaultWindowEnd
	}

	local := now.In(loc)
	meta := map[string]any{
		"trading_hours_enabled": true,
		"timezone":              tzname,
		"start":                 start,
		"end":                   end,
		"now_local":             local.Format("2006-01-02T15:04:05"),
	}

	startMin, err := parseClock(start)
	if err != nil {
		return true, meta
	}
	endMin, err := parseClock(end)
	if err != nil {
		return true, meta
	}

	nowMin := local.Hour()*60 + local.Minute()
	var ok bool
	if endMin >= startMin {
		ok = nowMin >= startMin && nowMin <= endMin
	} else {
		// Wraps midnight, e.g. 22:00-06:00.
		ok = nowMin >= startMin || nowMin <= endMin
	}
	return ok, meta
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}
