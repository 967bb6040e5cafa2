package watch

// Ladder holds the alert milestones, strictly descending. An account gets at
// most one alert per cycle: the largest newly crossed milestone.
var Ladder = [...]int64{100000, 10000, 5000, 1000, 300}

// Crossed reports the threshold fired by moving from prev to now edits.
//
// No alert fires when prev is unknown (first successful poll) or not positive:
// a fresh account jumping straight past a milestone would otherwise alert on
// first observation. An account already at or beyond the top milestone never
// fires again.
func Crossed(prev int64, known bool, now int64) (int64, bool) {
	if !known || prev <= 0 {
		return 0, false
	}
	for _, t := range Ladder {
		if prev < t && now >= t {
			return t, true
		}
	}
	return 0, false
}
