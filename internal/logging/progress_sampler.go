package logging

import (
	"math"
	"strings"
)

// ProgressSampler thins per-job progress logging to one line per stage
// change or per step of overall progress. Progress is a fraction in [0,1];
// a negative value means unknown.
type ProgressSampler struct {
	steps int
	stage string
	seen  int
}

// NewProgressSampler emits every step of progress; step outside (0,1] means 0.1.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 || step > 1 {
		step = 0.1
	}
	return &ProgressSampler{steps: int(math.Round(1 / step)), seen: -1}
}

// ShouldLog reports whether this update is worth a log line. A nil sampler logs everything.
func (s *ProgressSampler) ShouldLog(progress float64, stage string) bool {
	if s == nil {
		return true
	}
	stageChanged := false
	if stage = strings.TrimSpace(stage); stage != "" && stage != s.stage {
		s.stage = stage
		stageChanged = true
	}
	if progress < 0 {
		return stageChanged
	}
	slot := int(math.Floor(min(progress, 1)*float64(s.steps) + 1e-9))
	if slot <= s.seen {
		return stageChanged
	}
	s.seen = slot
	return true
}
