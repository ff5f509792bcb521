package progress

import "math"

// xpPerLevel scales the quadratic level curve.
const xpPerLevel = 100

// CalculateLevel returns floor(sqrt(xp/100)). Negative totals are level 0.
func CalculateLevel(xpTotal int) int {
	return int(math.Floor(math.Sqrt(float64(max(0, xpTotal)) / xpPerLevel)))
}

// XPForLevel returns the total XP needed to reach level.
func XPForLevel(level int) int {
	return level * level * xpPerLevel
}

// LevelProgress describes how far a total is into its current level.
type LevelProgress struct {
	CurrentLevel     int     `json:"current_level"`
	XPInCurrentLevel int     `json:"xp_in_current_level"`
	XPForNextLevel   int     `json:"xp_for_next_level"`
	ProgressPercent  float64 `json:"progress_percent"`
}

// LevelProgressFor computes LevelProgress for xpTotal. XPForNextLevel is
// the width of the current level band, not the absolute threshold.
func LevelProgressFor(xpTotal int) LevelProgress {
	level := CalculateLevel(xpTotal)
	floor := XPForLevel(level)
	band := XPForLevel(level+1) - floor
	inLevel := xpTotal - floor

	percent := 100.0
	if band > 0 {
		percent = float64(inLevel) / float64(band) * 100
	}

	return LevelProgress{
		CurrentLevel:     level,
		XPInCurrentLevel: inLevel,
		XPForNextLevel:   band,
		ProgressPercent:  math.Min(100, math.Max(0, percent)),
	}
}
