package imageres

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// imageState is shared by every reference to one image. Nothing in it changes after
// construction except the reference count.
type imageState struct {
	logger     *slog.Logger
	device     vulkan.Device
	raw        vulkan.RawImage
	allocation Allocation

	dimensions         Dimensions
	format             core1_0.Format
	usage              core1_0.ImageUsageFlags
	flags              core1_0.ImageCreateFlags
	sharingMode        core1_0.SharingMode
	queueFamilyIndices []int

	refCount atomic.Int32
}

// StorageImage is a general-purpose image with memory bound to it. It can be used for
// anything its usage allows, and every layout it is accessed in is ImageLayoutGeneral.
//
// A StorageImage is one reference to the underlying image. Clone creates another reference, and
// the image is destroyed when every reference has been released with Release.
type StorageImage struct {
	state    *imageState
	released atomic.Bool
}

// ImageKey identifies the underlying image of a StorageImage and can be used as a map key.
// Every reference to the same image has the same key.
type ImageKey struct {
	raw vulkan.RawImage
}

// New creates a storage image with DefaultUsage for format, and binds pooled device-local memory
// to it. If queueFamilyIndices contains two or more distinct queue families, the image is
// created with concurrent sharing.
func New(
	logger *slog.Logger,
	allocator MemoryAllocator,
	dimensions Dimensions,
	format core1_0.Format,
	queueFamilyIndices []int,
) (*StorageImage, error) {
	logger.Debug("StorageImage::New")

	return newStorageImage(logger, allocator, dimensions, format, DefaultUsage(format), 0, queueFamilyIndices)
}

// NewWithUsage creates a storage image with exactly the provided usage, and binds pooled
// device-local memory to it. The create flags required by dimensions are added to flags.
func NewWithUsage(
	logger *slog.Logger,
	allocator MemoryAllocator,
	dimensions Dimensions,
	format core1_0.Format,
	usage core1_0.ImageUsageFlags,
	flags core1_0.ImageCreateFlags,
	queueFamilyIndices []int,
) (*StorageImage, error) {
	logger.Debug("StorageImage::NewWithUsage")

	return newStorageImage(logger, allocator, dimensions, format, usage, flags, queueFamilyIndices)
}

func newStorageImage(
	logger *slog.Logger,
	allocator MemoryAllocator,
	dimensions Dimensions,
	format core1_0.Format,
	usage core1_0.ImageUsageFlags,
	flags core1_0.ImageCreateFlags,
	queueFamilyIndices []int,
) (*StorageImage, error) {
	if allocator == nil {
		return nil, errors.New("attempted to create an image with a nil allocator")
	}

	createInfo, err := buildCreateInfo(dimensions, format, usage, flags, queueFamilyIndices, 0)
	if err != nil {
		return nil, err
	}

	device := allocator.Device()
	raw, err := device.CreateImage(createInfo)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s image", dimensions)
	}

	requirements, err := queryRequirements(raw)
	if err != nil {
		raw.Destroy()
		return nil, err
	}

	alloc, err := allocatePooled(allocator, raw, requirements)
	if err != nil {
		raw.Destroy()
		return nil, err
	}

	return bindImage(logger, device, raw, alloc, requirements, dimensions, createInfo)
}

// bindImage binds alloc to raw and takes ownership of both. If binding fails, the allocation is
// freed and then the image is destroyed.
func bindImage(
	logger *slog.Logger,
	device vulkan.Device,
	raw vulkan.RawImage,
	alloc Allocation,
	requirements vulkan.MemoryRequirements,
	dimensions Dimensions,
	createInfo vulkan.ImageCreateInfo,
) (*StorageImage, error) {
	checkAllocation(alloc, requirements)

	err := raw.BindMemory([]vulkan.MemoryBinding{
		{
			Memory: alloc.Memory(),
			Offset: alloc.Offset(),
		},
	})
	if err != nil {
		freeErr := alloc.Free()
		if freeErr != nil {
			logger.LogAttrs(context.Background(), slog.LevelError, "failed to free memory after a failed bind", slog.Any("error", freeErr))
		}
		raw.Destroy()

		return nil, &BindError{Cause: err}
	}

	state := &imageState{
		logger:             logger,
		device:             device,
		raw:                raw,
		allocation:         alloc,
		dimensions:         dimensions,
		format:             createInfo.Format,
		usage:              createInfo.Usage,
		flags:              createInfo.Flags,
		sharingMode:        createInfo.SharingMode,
		queueFamilyIndices: createInfo.QueueFamilyIndices,
	}
	state.refCount.Store(1)

	return &StorageImage{state: state}, nil
}

// Clone returns a new reference to the same image. The image is not destroyed until the
// returned reference is released as well.
func (i *StorageImage) Clone() *StorageImage {
	if i.released.Load() {
		panic("attempted to clone a released image reference")
	}

	i.state.refCount.Add(1)
	return &StorageImage{state: i.state}
}

// Release drops this reference to the image. When the last reference is released, the image's
// memory is freed and then the image is destroyed.
func (i *StorageImage) Release() error {
	if !i.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}

	remaining := i.state.refCount.Add(-1)
	if remaining > 0 {
		return nil
	} else if remaining < 0 {
		panic("image reference count went negative")
	}

	i.state.logger.Debug("StorageImage::Release destroying image")

	err := i.state.allocation.Free()
	i.state.raw.Destroy()

	if err != nil {
		return errors.Wrap(err, "failed to free image memory")
	}
	return nil
}

// Equal returns true if both references point to the same underlying image
func (i *StorageImage) Equal(other *StorageImage) bool {
	if other == nil {
		return false
	}

	return i.state.raw == other.state.raw
}

func (i *StorageImage) Key() ImageKey {
	return ImageKey{raw: i.state.raw}
}

func (i *StorageImage) Raw() vulkan.RawImage   { return i.state.raw }
func (i *StorageImage) Device() vulkan.Device  { return i.state.device }
func (i *StorageImage) Dimensions() Dimensions { return i.state.dimensions }
func (i *StorageImage) Format() core1_0.Format { return i.state.format }

func (i *StorageImage) Usage() core1_0.ImageUsageFlags {
	return i.state.usage
}

func (i *StorageImage) Flags() core1_0.ImageCreateFlags {
	return i.state.flags
}

func (i *StorageImage) SharingMode() core1_0.SharingMode {
	return i.state.sharingMode
}

// QueueFamilyIndices returns the distinct queue families of a concurrent image, or nil for an
// exclusive image
func (i *StorageImage) QueueFamilyIndices() []int {
	return append([]int(nil), i.state.queueFamilyIndices...)
}

func (i *StorageImage) Aspects() core1_0.ImageAspectFlags {
	return vulkan.FormatAspects(i.state.format)
}

// SubresourceRange covers every aspect and array layer of the image's only mip level
func (i *StorageImage) SubresourceRange() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     i.Aspects(),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     i.state.dimensions.ArrayLayers(),
	}
}

func (i *StorageImage) InitialLayoutRequirement() core1_0.ImageLayout {
	return core1_0.ImageLayoutGeneral
}

func (i *StorageImage) FinalLayoutRequirement() core1_0.ImageLayout {
	return core1_0.ImageLayoutGeneral
}

func (i *StorageImage) DescriptorLayouts() DescriptorLayouts {
	return generalDescriptorLayouts
}

// MemorySize is the size of the device memory the image is bound to. For pooled images, this
// memory is shared with other resources.
func (i *StorageImage) MemorySize() int {
	return i.state.allocation.Memory().AllocationSize()
}

// AllocationSize is the number of bytes of memory reserved for the image
func (i *StorageImage) AllocationSize() int {
	return i.state.allocation.Size()
}

// IsDedicated returns true if the image has a block of device memory to itself
func (i *StorageImage) IsDedicated() bool {
	return i.state.allocation.IsDedicated()
}
