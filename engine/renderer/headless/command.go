package headless

import (
	"fmt"

	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type commandPool struct {
	dev       *Device
	role      driver.QueueRole
	family    uint32
	buffers   map[*commandBuffer]struct{}
	destroyed bool
}

func (p *commandPool) Role() driver.QueueRole {
	return p.role
}

func (p *commandPool) Family() uint32 {
	return p.family
}

func (p *commandPool) Allocate() (driver.CommandBuffer, error) {
	if p.destroyed {
		return nil, fmt.Errorf("allocate from destroyed %s pool: %w", p.role, driver.ErrValidation)
	}
	if err := p.dev.check(); err != nil {
		return nil, err
	}
	cb := &commandBuffer{pool: p}
	p.buffers[cb] = struct{}{}
	p.dev.commandBuffers.Add(1)
	return cb, nil
}

func (p *commandPool) Free(c driver.CommandBuffer) {
	cb, ok := c.(*commandBuffer)
	if !ok || cb == nil {
		return
	}
	if _, ok := p.buffers[cb]; !ok {
		core.LogWarn("headless: freeing command buffer not owned by the %s pool", p.role)
		return
	}
	delete(p.buffers, cb)
	cb.state = stateFreed
	p.dev.commandBuffers.Add(-1)
}

func (p *commandPool) Destroy() {
	if p.destroyed {
		return
	}
	for cb := range p.buffers {
		cb.state = stateFreed
		p.dev.commandBuffers.Add(-1)
	}
	p.buffers = nil
	p.destroyed = true
}

type commandState int

const (
	stateInitial commandState = iota
	stateRecording
	stateExecutable
	stateFreed
)

type command func(family uint32) error

type commandBuffer struct {
	pool     *commandPool
	state    commandState
	commands []command
	// first error hit while recording, returned on execution
	recordErr error
}

func (c *commandBuffer) Begin() error {
	if c.state == stateRecording || c.state == stateFreed {
		return fmt.Errorf("begin command buffer in state %d: %w", c.state, driver.ErrValidation)
	}
	c.commands = c.commands[:0]
	c.recordErr = nil
	c.state = stateRecording
	return nil
}

func (c *commandBuffer) End() error {
	if c.state != stateRecording {
		return fmt.Errorf("end command buffer that is not recording: %w", driver.ErrValidation)
	}
	c.state = stateExecutable
	return nil
}

func (c *commandBuffer) record(cmd command, err error) {
	if c.state != stateRecording && err == nil {
		err = fmt.Errorf("command recorded outside Begin/End: %w", driver.ErrValidation)
	}
	if err != nil {
		if c.recordErr == nil {
			c.recordErr = err
		}
		return
	}
	c.commands = append(c.commands, cmd)
}

func (c *commandBuffer) PipelineBarrier(barriers ...driver.ImageBarrier) {
	for _, b := range barriers {
		b := b
		img, err := asImage(b.Image)
		c.record(func(family uint32) error {
			return img.barrier(b, family)
		}, err)
	}
}

func (c *commandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, dstLayout driver.ImageLayout, region driver.BufferImageCopy) {
	buf, err := asBuffer(src)
	img, ierr := asImage(dst)
	if err == nil {
		err = ierr
	}
	c.record(func(family uint32) error {
		return img.copyFromBuffer(buf, dstLayout, region, family)
	}, err)
}

func (c *commandBuffer) BlitImage(src driver.Image, srcLayout driver.ImageLayout, dst driver.Image, dstLayout driver.ImageLayout, region driver.ImageBlit, filter driver.Filter) {
	s, err := asImage(src)
	d, derr := asImage(dst)
	if err == nil {
		err = derr
	}
	c.record(func(family uint32) error {
		return blit(s, srcLayout, d, dstLayout, region, filter, family)
	}, err)
}

func (c *commandBuffer) CopyImageToBuffer(src driver.Image, srcLayout driver.ImageLayout, dst driver.Buffer, region driver.BufferImageCopy) {
	img, err := asImage(src)
	buf, berr := asBuffer(dst)
	if err == nil {
		err = berr
	}
	c.record(func(family uint32) error {
		return img.copyToBuffer(buf, srcLayout, region, family)
	}, err)
}

func (c *commandBuffer) submittable(family uint32) error {
	if c.state != stateExecutable {
		return fmt.Errorf("command buffer not executable: %w", driver.ErrValidation)
	}
	if c.pool.family != family {
		return fmt.Errorf("command buffer from family %d submitted to family %d: %w", c.pool.family, family, driver.ErrValidation)
	}
	return nil
}

func (c *commandBuffer) execute(family uint32) error {
	if c.recordErr != nil {
		return c.recordErr
	}
	for _, cmd := range c.commands {
		if err := cmd(family); err != nil {
			return err
		}
	}
	return nil
}

func asImage(i driver.Image) (*image, error) {
	img, ok := i.(*image)
	if !ok || img == nil {
		return nil, fmt.Errorf("foreign or nil image: %w", driver.ErrValidation)
	}
	return img, nil
}

func asBuffer(b driver.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf == nil {
		return nil, fmt.Errorf("foreign or nil buffer: %w", driver.ErrValidation)
	}
	return buf, nil
}
