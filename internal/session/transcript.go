package session

import "github.com/BTreeMap/DengueCast/internal/models"

// Transcript is the append-only log of turns for one session.
// It is not safe for concurrent use; Session guards it.
type Transcript struct {
	turns []models.Turn
}

// Append adds a turn to the end of the transcript.
func (t *Transcript) Append(turn models.Turn) {
	t.turns = append(t.turns, turn)
}

// All returns a copy of every turn in order.
func (t *Transcript) All() []models.Turn {
	return append([]models.Turn(nil), t.turns...)
}

// Len returns the number of turns.
func (t *Transcript) Len() int { return len(t.turns) }
