package encoder

import (
	"strconv"
	"strings"
	"time"
)

// progressReport is one parsed block of ffmpeg -progress output.
type progressReport struct {
	OutTime time.Duration
	Done    bool
}

// progressParser accumulates ffmpeg key=value progress lines into reports.
type progressParser struct {
	outTime time.Duration
}

// Feed consumes one line and returns a report at each block boundary.
func (p *progressParser) Feed(line string) (progressReport, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return progressReport{}, false
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports microseconds under both keys.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.outTime = time.Duration(us) * time.Microsecond
		}
	case "out_time":
		if d, ok := parseClock(value); ok {
			p.outTime = d
		}
	case "progress":
		return progressReport{OutTime: p.outTime, Done: value == "end"}, true
	}
	return progressReport{}, false
}

// parseClock parses HH:MM:SS.micro timestamps.
func parseClock(raw string) (time.Duration, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}
