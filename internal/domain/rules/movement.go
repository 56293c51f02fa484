// Package rules contains the pure calculation logic for grain movement.
// This package is PURE and must NOT import any infrastructure packages.
package rules

import "github.com/MRamiBalles/sand-dropper/internal/domain/cave"

// Occupancy is the read-only view of the cave a grain consults.
type Occupancy interface {
	Open(p cave.Point) (bool, error)
	Height() int
}

// MoveKind is the outcome of evaluating one grain for one tick.
type MoveKind int

const (
	MoveDown  MoveKind = iota
	MoveLeft           // Diagonal down-left
	MoveRight          // Diagonal down-right
	Rest               // Nothing below is open, the grain settles in place
	Void               // No row below, the grain falls out of the cave
)

func (k MoveKind) String() string {
	switch k {
	case MoveDown:
		return "DOWN"
	case MoveLeft:
		return "DOWN_LEFT"
	case MoveRight:
		return "DOWN_RIGHT"
	case Rest:
		return "REST"
	case Void:
		return "VOID"
	}
	return "UNKNOWN"
}

// Move is a decided step. To equals the current position for Rest and Void.
type Move struct {
	Kind MoveKind
	To   cave.Point
}

// Moved reports whether the grain changes cell.
func (m Move) Moved() bool {
	return m.Kind == MoveDown || m.Kind == MoveLeft || m.Kind == MoveRight
}

// NextMove decides where a grain at pos goes next: straight down if open,
// otherwise down-left, otherwise down-right, otherwise it rests. Left always
// wins over right.
func NextMove(occ Occupancy, pos cave.Point) (Move, error) {
	if pos.Y+1 >= occ.Height() {
		return Move{Kind: Void, To: pos}, nil
	}

	candidates := [...]struct {
		kind MoveKind
		to   cave.Point
	}{
		{MoveDown, pos.Below()},
		{MoveLeft, pos.BelowLeft()},
		{MoveRight, pos.BelowRight()},
	}
	for _, c := range candidates {
		open, err := occ.Open(c.to)
		if err != nil {
			return Move{}, err
		}
		if open {
			return Move{Kind: c.kind, To: c.to}, nil
		}
	}
	return Move{Kind: Rest, To: pos}, nil
}
