package memory

import "github.com/vkngwrapper/arsenal/imageres/vulkan"

type AllocateDeviceMemoryCallback func(
	allocator *Allocator,
	memoryType int,
	memory vulkan.DeviceMemory,
	size int,
	userData interface{},
)

type FreeDeviceMemoryCallback func(
	allocator *Allocator,
	memoryType int,
	memory vulkan.DeviceMemory,
	size int,
	userData interface{},
)

// MemoryCallbackOptions are called whenever the allocator allocates or frees a block of device
// memory. They are not called for suballocations.
type MemoryCallbackOptions struct {
	Allocate AllocateDeviceMemoryCallback
	Free     FreeDeviceMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Allocator *Allocator
}

func (c *memoryCallbacks) Allocate(memoryType int, memory vulkan.DeviceMemory, size int) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Allocator, memoryType, memory, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(memoryType int, memory vulkan.DeviceMemory, size int) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Allocator, memoryType, memory, size, c.Callbacks.UserData)
	}
}
