package domain

// Penalties are the years each seat serves for one game. Lower is better.
type Penalties struct {
	Player1 int `json:"player_1"`
	Player2 int `json:"player_2"`
}

// Resolve maps two simultaneous moves to penalties. A move of true means the
// player defected, false means they cooperated.
func Resolve(defectA, defectB bool) (penaltyA, penaltyB int) {
	switch {
	case defectA && defectB:
		return 2, 2
	case defectA:
		return 0, 3
	case defectB:
		return 3, 0
	default:
		return 1, 1
	}
}

// MoveName is the human name of a move
func MoveName(defect bool) string {
	if defect {
		return "defect"
	}
	return "cooperate"
}
