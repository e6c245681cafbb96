package platform

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/anima2d/engine/core"
)

func init() {
	// GLFW must be initialized on the main OS thread
	runtime.LockOSThread()
}

var (
	mutex     sync.Mutex
	refs      int
	startTime float64
)

// Acquire initializes GLFW on first use. Every successful call must be
// matched by Release.
func Acquire() error {
	mutex.Lock()
	defer mutex.Unlock()

	if refs == 0 {
		if err := glfw.Init(); err != nil {
			return err
		}
		startTime = glfw.GetTime()
		core.LogDebug("glfw %s initialized", glfw.GetVersionString())
	}
	refs++
	return nil
}

// Release terminates GLFW when the last user releases it.
func Release() {
	mutex.Lock()
	defer mutex.Unlock()

	if refs == 0 {
		return
	}
	refs--
	if refs == 0 {
		glfw.Terminate()
	}
}

// VulkanSupported reports whether GLFW found a Vulkan loader. GLFW must be acquired.
func VulkanSupported() bool {
	return glfw.VulkanSupported()
}

// VulkanProcAddr returns vkGetInstanceProcAddr as resolved by GLFW.
func VulkanProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

// Uptime returns the seconds since GLFW was initialized.
func Uptime() float64 {
	mutex.Lock()
	defer mutex.Unlock()
	if refs == 0 {
		return 0
	}
	return glfw.GetTime() - startTime
}
