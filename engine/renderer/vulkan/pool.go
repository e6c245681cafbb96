package vulkan

import (
	"sync"

	"golang.org/x/exp/slices"
)

type LockGroup string

const (
	DeviceManagement LockGroup = "device_management"
	MemoryManagement LockGroup = "memory_management"
)

// VulkanLockPool serializes access to externally synchronized Vulkan
// objects. Queues are locked per family since roles sharing a family share
// one VkQueue.
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // protects both maps

	queueMutexes map[uint32]*sync.Mutex // queue family index as key
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) lock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	l, exists := vs.locks[group]
	if !exists {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	vs.mu.Unlock()
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

func (vs *VulkanLockPool) SetQueueFamily(index uint32) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.queueMutexes[index]; !exists {
		vs.queueMutexes[index] = &sync.Mutex{}
	}
}

// SafeQueueCall runs fn holding the lock of the family. The family must have
// been registered with SetQueueFamily.
func (vs *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	vs.mu.Lock()
	l := vs.queueMutexes[queueFamilyIndex]
	vs.mu.Unlock()

	l.Lock()
	defer l.Unlock()

	return fn()
}

// LockAllQueues holds every queue lock, taken in family order, while fn runs.
func (vs *VulkanLockPool) LockAllQueues(fn func() error) error {
	vs.mu.Lock()
	families := make([]uint32, 0, len(vs.queueMutexes))
	for family := range vs.queueMutexes {
		families = append(families, family)
	}
	slices.Sort(families)
	held := make([]*sync.Mutex, len(families))
	for i, family := range families {
		held[i] = vs.queueMutexes[family]
	}
	vs.mu.Unlock()

	for _, l := range held {
		l.Lock()
	}
	defer func() {
		for _, l := range held {
			l.Unlock()
		}
	}()
	return fn()
}
