// Package fakes provides an in-process implementation of the vulkan package's device contracts
// that keeps track of every object it creates, for use in tests
package fakes

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const (
	DeviceLocalHeapSize = 1024 * 1024 * 1024
	HostHeapSize        = 256 * 1024 * 1024

	// DeviceLocalType is a device-local memory type on heap 0
	DeviceLocalType = 0
	// HostVisibleType is a host-visible, host-coherent memory type on heap 1
	HostVisibleType = 1

	defaultImageAlignment = 256
)

// Event names recorded by Device
const (
	EventCreateImage     = "CreateImage"
	EventDestroyImage    = "DestroyImage"
	EventAllocateMemory  = "AllocateMemory"
	EventFreeMemory      = "FreeMemory"
	EventBindMemory      = "BindMemory"
	EventCreateImageView = "CreateImageView"
	EventDestroyView     = "DestroyImageView"
)

// PhysicalDevice is a fake vulkan.PhysicalDevice. Its fields may be changed freely before it is
// used.
type PhysicalDevice struct {
	DeviceProperties core1_0.PhysicalDeviceProperties
	MemProperties    core1_0.PhysicalDeviceMemoryProperties

	// FormatProperties answers ImageFormatProperties. If nil, every query is supported and
	// external memory is exportable.
	FormatProperties func(info vulkan.ImageFormatInfo) (*vulkan.ImageFormatProperties, error)

	mutex         sync.Mutex
	formatQueries []vulkan.ImageFormatInfo
}

var _ vulkan.PhysicalDevice = &PhysicalDevice{}

// NewPhysicalDevice returns a physical device with a 1GB device-local heap and a 256MB host heap
func NewPhysicalDevice() *PhysicalDevice {
	return &PhysicalDevice{
		DeviceProperties: core1_0.PhysicalDeviceProperties{
			DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
			Limits: &core1_0.PhysicalDeviceLimits{
				BufferImageGranularity:   1,
				NonCoherentAtomSize:      64,
				MaxMemoryAllocationCount: 4096,
			},
		},
		MemProperties: core1_0.PhysicalDeviceMemoryProperties{
			MemoryTypes: []core1_0.MemoryType{
				{
					PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
					HeapIndex:     0,
				},
				{
					PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
					HeapIndex:     1,
				},
			},
			MemoryHeaps: []core1_0.MemoryHeap{
				{
					Size:  DeviceLocalHeapSize,
					Flags: core1_0.MemoryHeapDeviceLocal,
				},
				{
					Size: HostHeapSize,
				},
			},
		},
	}
}

func (p *PhysicalDevice) ImageFormatProperties(info vulkan.ImageFormatInfo) (*vulkan.ImageFormatProperties, error) {
	p.mutex.Lock()
	p.formatQueries = append(p.formatQueries, info)
	p.mutex.Unlock()

	if p.FormatProperties != nil {
		return p.FormatProperties(info)
	}

	return &vulkan.ImageFormatProperties{
		MaxExtent:      core1_0.Extent3D{Width: 16384, Height: 16384, Depth: 2048},
		MaxMipLevels:   15,
		MaxArrayLayers: 2048,
		SampleCounts:   core1_0.Samples1,
		ExternalMemoryProperties: vulkan.ExternalMemoryProperties{
			Exportable:            info.ExternalMemoryHandleType != 0,
			Importable:            info.ExternalMemoryHandleType != 0,
			CompatibleHandleTypes: info.ExternalMemoryHandleType,
		},
	}, nil
}

// FormatQueries returns every query passed to ImageFormatProperties
func (p *PhysicalDevice) FormatQueries() []vulkan.ImageFormatInfo {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return append([]vulkan.ImageFormatInfo(nil), p.formatQueries...)
}

func (p *PhysicalDevice) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &p.MemProperties
}

func (p *PhysicalDevice) Properties() (*core1_0.PhysicalDeviceProperties, error) {
	return &p.DeviceProperties, nil
}

// Device is a fake vulkan.Device. Failure injection fields may be set at any time.
type Device struct {
	physicalDevice *PhysicalDevice

	// Requirements computes the memory requirements of a new image. If nil, images are 4 bytes
	// per texel aligned to 256 bytes, and may use every memory type.
	Requirements func(info vulkan.ImageCreateInfo) vulkan.MemoryRequirements

	CreateImageErr     error
	AllocateMemoryErr  error
	BindMemoryErr      error
	CreateImageViewErr error

	mutex       sync.Mutex
	events      []string
	images      []*Image
	memories    []*Memory
	views       []*ImageView
	nextFD      int
	liveImages  int
	liveMemory  int
	liveViews   int
	memoryBytes int
}

var _ vulkan.Device = &Device{}

func NewDevice() *Device {
	return NewDeviceWithPhysicalDevice(NewPhysicalDevice())
}

func NewDeviceWithPhysicalDevice(physicalDevice *PhysicalDevice) *Device {
	return &Device{
		physicalDevice: physicalDevice,
		nextFD:         100,
	}
}

func (d *Device) PhysicalDevice() vulkan.PhysicalDevice {
	return d.physicalDevice
}

func (d *Device) FakePhysicalDevice() *PhysicalDevice {
	return d.physicalDevice
}

func (d *Device) record(event string) {
	d.events = append(d.events, event)
}

func (d *Device) defaultRequirements(info vulkan.ImageCreateInfo) vulkan.MemoryRequirements {
	texels := info.Extent.Width * info.Extent.Height * info.Extent.Depth * info.ArrayLayers
	if texels < 1 {
		texels = 1
	}

	var requirements vulkan.MemoryRequirements
	requirements.Size = suballoc.AlignUp(texels*4, defaultImageAlignment)
	requirements.Alignment = defaultImageAlignment
	requirements.MemoryTypeBits = 1<<len(d.physicalDevice.MemProperties.MemoryTypes) - 1
	return requirements
}

func (d *Device) CreateImage(info vulkan.ImageCreateInfo) (vulkan.RawImage, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.CreateImageErr != nil {
		return nil, d.CreateImageErr
	}

	var requirements vulkan.MemoryRequirements
	if d.Requirements != nil {
		requirements = d.Requirements(info)
	} else {
		requirements = d.defaultRequirements(info)
	}

	info.QueueFamilyIndices = append([]int(nil), info.QueueFamilyIndices...)
	image := &Image{
		device:       d,
		Info:         info,
		requirements: []vulkan.MemoryRequirements{requirements},
	}

	d.images = append(d.images, image)
	d.liveImages++
	d.record(EventCreateImage)

	return image, nil
}

func (d *Device) AllocateMemory(info vulkan.MemoryAllocateInfo) (vulkan.DeviceMemory, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.AllocateMemoryErr != nil {
		return nil, d.AllocateMemoryErr
	}
	if info.MemoryTypeIndex < 0 || info.MemoryTypeIndex >= len(d.physicalDevice.MemProperties.MemoryTypes) {
		return nil, errors.Newf("invalid memory type index %d", info.MemoryTypeIndex)
	}
	if info.AllocationSize < 1 {
		return nil, errors.Newf("invalid allocation size %d", info.AllocationSize)
	}

	memory := &Memory{
		device: d,
		Info:   info,
		fd:     d.nextFD,
	}
	d.nextFD++

	d.memories = append(d.memories, memory)
	d.liveMemory++
	d.memoryBytes += info.AllocationSize
	d.record(EventAllocateMemory)

	return memory, nil
}

func (d *Device) CreateImageView(info vulkan.ImageViewCreateInfo) (vulkan.ImageView, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.CreateImageViewErr != nil {
		return nil, d.CreateImageViewErr
	}

	image, ok := info.Image.(*Image)
	if !ok || image.device != d {
		return nil, errors.Newf("image of type %T was not created by this device", info.Image)
	}
	if image.destroyed {
		return nil, errors.New("attempted to create a view of a destroyed image")
	}
	if len(image.bindings) == 0 {
		return nil, errors.New("attempted to create a view of an image with no memory bound")
	}

	view := &ImageView{
		device: d,
		Info:   info,
	}

	d.views = append(d.views, view)
	d.liveViews++
	d.record(EventCreateImageView)

	return view, nil
}

// Events returns the names of every call made to the device and its objects, in order
func (d *Device) Events() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]string(nil), d.events...)
}

func (d *Device) Images() []*Image {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]*Image(nil), d.images...)
}

func (d *Device) Memories() []*Memory {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]*Memory(nil), d.memories...)
}

func (d *Device) Views() []*ImageView {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]*ImageView(nil), d.views...)
}

func (d *Device) LiveImages() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.liveImages
}

func (d *Device) LiveMemory() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.liveMemory
}

// LiveMemoryBytes is the total size of all device memory that has not been freed
func (d *Device) LiveMemoryBytes() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.memoryBytes
}

func (d *Device) LiveViews() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.liveViews
}

// Image is a fake vulkan.RawImage
type Image struct {
	device       *Device
	Info         vulkan.ImageCreateInfo
	requirements []vulkan.MemoryRequirements
	bindings     []vulkan.MemoryBinding
	destroyed    bool
}

func (i *Image) MemoryRequirements() []vulkan.MemoryRequirements {
	return append([]vulkan.MemoryRequirements(nil), i.requirements...)
}

func (i *Image) BindMemory(bindings []vulkan.MemoryBinding) error {
	i.device.mutex.Lock()
	defer i.device.mutex.Unlock()

	if i.destroyed {
		return errors.New("attempted to bind memory to a destroyed image")
	}
	if len(i.bindings) > 0 {
		return errors.New("image memory has already been bound")
	}
	if i.device.BindMemoryErr != nil {
		return i.device.BindMemoryErr
	}
	if len(bindings) != len(i.requirements) {
		return errors.Newf("image has %d planes, but %d bindings were provided", len(i.requirements), len(bindings))
	}

	for planeIndex, binding := range bindings {
		memory, ok := binding.Memory.(*Memory)
		if !ok || memory.device != i.device {
			return errors.Newf("memory of type %T was not allocated by this device", binding.Memory)
		}
		if memory.freed {
			return errors.New("attempted to bind freed memory")
		}

		requirements := i.requirements[planeIndex]
		if requirements.Alignment > 0 && binding.Offset%requirements.Alignment != 0 {
			return errors.Newf("offset %d does not satisfy alignment %d", binding.Offset, requirements.Alignment)
		}
		if binding.Offset+requirements.Size > memory.Info.AllocationSize {
			return errors.Newf("binding at offset %d with size %d overruns memory of size %d", binding.Offset, requirements.Size, memory.Info.AllocationSize)
		}
		if requirements.MemoryTypeBits&(1<<memory.Info.MemoryTypeIndex) == 0 {
			return errors.Newf("memory type %d is not allowed for this image", memory.Info.MemoryTypeIndex)
		}
	}

	i.bindings = append([]vulkan.MemoryBinding(nil), bindings...)
	i.device.record(EventBindMemory)
	return nil
}

func (i *Image) Destroy() {
	i.device.mutex.Lock()
	defer i.device.mutex.Unlock()

	if i.destroyed {
		panic("image destroyed twice")
	}

	i.destroyed = true
	i.device.liveImages--
	i.device.record(EventDestroyImage)
}

// Bindings returns the memory bound to the image
func (i *Image) Bindings() []vulkan.MemoryBinding {
	i.device.mutex.Lock()
	defer i.device.mutex.Unlock()

	return append([]vulkan.MemoryBinding(nil), i.bindings...)
}

func (i *Image) Destroyed() bool {
	i.device.mutex.Lock()
	defer i.device.mutex.Unlock()

	return i.destroyed
}

// SetRequirements replaces the requirements that MemoryRequirements reports
func (i *Image) SetRequirements(requirements ...vulkan.MemoryRequirements) {
	i.device.mutex.Lock()
	defer i.device.mutex.Unlock()

	i.requirements = requirements
}

// Memory is a fake vulkan.DeviceMemory
type Memory struct {
	device *Device
	Info   vulkan.MemoryAllocateInfo
	fd     int
	freed  bool
}

func (m *Memory) AllocationSize() int {
	return m.Info.AllocationSize
}

func (m *Memory) MemoryTypeIndex() int {
	return m.Info.MemoryTypeIndex
}

func (m *Memory) ExportFD(handleType vulkan.ExternalMemoryHandleTypeFlags) (int, error) {
	m.device.mutex.Lock()
	defer m.device.mutex.Unlock()

	if m.freed {
		return -1, errors.New("attempted to export freed memory")
	}
	if handleType == 0 || m.Info.ExportHandleTypes&handleType != handleType {
		return -1, errors.Newf("memory was not allocated as exportable to %s", handleType)
	}

	return m.fd, nil
}

func (m *Memory) Free() {
	m.device.mutex.Lock()
	defer m.device.mutex.Unlock()

	if m.freed {
		panic("device memory freed twice")
	}

	m.freed = true
	m.device.liveMemory--
	m.device.memoryBytes -= m.Info.AllocationSize
	m.device.record(EventFreeMemory)
}

func (m *Memory) Freed() bool {
	m.device.mutex.Lock()
	defer m.device.mutex.Unlock()

	return m.freed
}

// ImageView is a fake vulkan.ImageView
type ImageView struct {
	device    *Device
	Info      vulkan.ImageViewCreateInfo
	destroyed bool
}

func (v *ImageView) Destroy() {
	v.device.mutex.Lock()
	defer v.device.mutex.Unlock()

	if v.destroyed {
		panic("image view destroyed twice")
	}

	v.destroyed = true
	v.device.liveViews--
	v.device.record(EventDestroyView)
}

func (v *ImageView) Destroyed() bool {
	v.device.mutex.Lock()
	defer v.device.mutex.Unlock()

	return v.destroyed
}
