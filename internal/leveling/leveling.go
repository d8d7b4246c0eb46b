// Package leveling turns ledger experience into the player level that quest
// level gates are checked against.
package leveling

import "math"

// MaxPlayerLevel is the level cap. Quest MaxLevel values above it never
// exclude anyone.
const MaxPlayerLevel = 50

// XPForLevel is the total experience a player needs to reach level, on the
// curve 100 * level^1.5. Level 1 needs none; levels past the cap cost the
// same as the cap.
func XPForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	return int(100 * math.Pow(float64(min(level, MaxPlayerLevel)), 1.5))
}

// XPToNextLevel is the experience between currentLevel and the next one, or
// 0 at the cap.
func XPToNextLevel(currentLevel int) int {
	if currentLevel >= MaxPlayerLevel {
		return 0
	}
	return XPForLevel(currentLevel+1) - XPForLevel(currentLevel)
}

// LevelForXP returns the level a ledger balance of xp puts the player at.
// Quest experience rewards can move a player across several levels at once.
func LevelForXP(xp int) int {
	level := 1
	for level < MaxPlayerLevel && xp >= XPForLevel(level+1) {
		level++
	}
	return level
}
