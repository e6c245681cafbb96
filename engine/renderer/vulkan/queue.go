package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type queue struct {
	dev    *Device
	role   driver.QueueRole
	family uint32
	handle vk.Queue
}

func (q *queue) Role() driver.QueueRole {
	return q.role
}

func (q *queue) Family() uint32 {
	return q.family
}

// Submit converts the batches and submits them holding the family lock.
// Every wait semaphore waits at all commands.
func (q *queue) Submit(submits []driver.SubmitInfo, f driver.Fence) error {
	if err := q.dev.check(); err != nil {
		return err
	}

	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		info := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo}
		for _, w := range s.Wait {
			sem, ok := w.(*semaphore)
			if !ok || sem == nil || sem.dev != q.dev {
				return fmt.Errorf("submit %d: foreign wait semaphore: %w", i, driver.ErrValidation)
			}
			info.PWaitSemaphores = append(info.PWaitSemaphores, sem.handle)
			info.PWaitDstStageMask = append(info.PWaitDstStageMask, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
		}
		for _, c := range s.CommandBuffers {
			cb, ok := c.(*commandBuffer)
			if !ok || cb == nil || cb.pool.dev != q.dev {
				return fmt.Errorf("submit %d: foreign command buffer: %w", i, driver.ErrValidation)
			}
			if cb.pool.family != q.family {
				return fmt.Errorf("submit %d: command buffer of family %d on %s queue (family %d): %w",
					i, cb.pool.family, q.role, q.family, driver.ErrValidation)
			}
			if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
				return fmt.Errorf("submit %d: command buffer not ended: %w", i, driver.ErrValidation)
			}
			info.PCommandBuffers = append(info.PCommandBuffers, cb.Handle)
		}
		for _, sg := range s.Signal {
			sem, ok := sg.(*semaphore)
			if !ok || sem == nil || sem.dev != q.dev {
				return fmt.Errorf("submit %d: foreign signal semaphore: %w", i, driver.ErrValidation)
			}
			info.PSignalSemaphores = append(info.PSignalSemaphores, sem.handle)
		}
		info.WaitSemaphoreCount = uint32(len(info.PWaitSemaphores))
		info.CommandBufferCount = uint32(len(info.PCommandBuffers))
		info.SignalSemaphoreCount = uint32(len(info.PSignalSemaphores))
		infos[i] = info
	}

	var fenceHandle vk.Fence
	var fc *VulkanFence
	if f != nil {
		var ok bool
		fc, ok = f.(*VulkanFence)
		if !ok || fc == nil || fc.dev != q.dev {
			return fmt.Errorf("submit: foreign fence: %w", driver.ErrValidation)
		}
		if !fc.markSubmitted() {
			return fmt.Errorf("submit: fence already submitted: %w", driver.ErrValidation)
		}
		fenceHandle = fc.Handle
	}

	err := q.dev.context.locks.SafeQueueCall(q.family, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(q.handle, uint32(len(infos)), infos, fenceHandle))
	})
	if err != nil {
		return q.dev.observe(fmt.Errorf("submit to %s queue: %w", q.role, err))
	}
	for _, s := range submits {
		for _, c := range s.CommandBuffers {
			c.(*commandBuffer).UpdateSubmitted()
		}
	}
	return nil
}
