package jobs

// InvalidTaskIndex is returned by Schedule when the task was not accepted.
// Valid task indices start at 1.
const InvalidTaskIndex uint64 = 0

// Task is a unit of deferred work executed exactly once by one worker. The
// worker passes its own ThreadPrivateResource; Run must not keep it.
type Task interface {
	Run(thread ThreadPrivateResource)
}

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc func(thread ThreadPrivateResource)

func (f TaskFunc) Run(thread ThreadPrivateResource) {
	f(thread)
}

type scheduledTask struct {
	index        uint64
	task         Task
	affinity     []int
	dependencies []uint64
	running      bool
}

func (t *scheduledTask) runsOn(thread int) bool {
	if len(t.affinity) == 0 {
		return true
	}
	for _, a := range t.affinity {
		if a == thread {
			return true
		}
	}
	return false
}
