package engine

import "fmt"

// DefaultCadence spawns a grain every third tick.
const DefaultCadence = 3

// Spawner decides on which ticks a new grain enters at the source.
type Spawner struct {
	cadence int64
}

// NewSpawner returns a spawner that fires every cadence ticks, starting at tick 0.
func NewSpawner(cadence int) (Spawner, error) {
	if cadence <= 0 {
		return Spawner{}, fmt.Errorf("engine: spawn cadence must be positive, got %d", cadence)
	}
	return Spawner{cadence: int64(cadence)}, nil
}

// Due reports whether a grain spawns on tick.
func (s Spawner) Due(tick int64) bool {
	return tick%s.cadence == 0
}

// Cadence returns the number of ticks between spawns.
func (s Spawner) Cadence() int { return int(s.cadence) }
