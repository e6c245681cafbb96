package jobs

// ThreadSignal is a snapshot of a worker's startup and shutdown progress.
type ThreadSignal struct {
	InitSucceeded bool
	InitFailed    bool
	ReadyToJoin   bool
}

// Initialized reports whether ThreadBegin has finished, successfully or not.
func (s ThreadSignal) Initialized() bool {
	return s.InitSucceeded || s.InitFailed
}
