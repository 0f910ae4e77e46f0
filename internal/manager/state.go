package manager

// State is the lifecycle position of one chunk key.
type State uint8

const (
	StateUnloaded State = iota
	StatePendingGeneration
	StateDirty
	StatePendingMesh
	StateClean
	StateEvicting
)

var stateNames = [...]string{
	StateUnloaded:          "unloaded",
	StatePendingGeneration: "pending-generation",
	StateDirty:             "dirty",
	StatePendingMesh:       "pending-mesh",
	StateClean:             "clean",
	StateEvicting:          "evicting",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Loaded reports whether a chunk in this state holds voxel data.
func (s State) Loaded() bool {
	return s == StateDirty || s == StatePendingMesh || s == StateClean
}
