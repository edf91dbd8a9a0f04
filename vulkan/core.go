package vulkan

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory_capabilities"
	"golang.org/x/exp/slog"
)

// FDExporter retrieves a posix file descriptor for a block of device memory. vkngwrapper does not
// ship VK_KHR_external_memory_fd, so applications that export memory provide their own.
type FDExporter interface {
	ExportFD(memory core1_0.DeviceMemory, handleType ExternalMemoryHandleTypeFlags) (int, error)
}

type CoreDeviceOptions struct {
	AllocationCallbacks *driver.AllocationCallbacks
	// FDExporter may be nil, in which case DeviceMemory.ExportFD always fails
	FDExporter FDExporter
}

// CoreDevice implements Device on top of a vkngwrapper device
type CoreDevice struct {
	logger              *slog.Logger
	device              core1_0.Device
	physicalDevice      *corePhysicalDevice
	extensionData       *ExtensionData
	allocationCallbacks *driver.AllocationCallbacks
	fdExporter          FDExporter
}

var _ Device = &CoreDevice{}

func NewCoreDevice(
	logger *slog.Logger,
	instance core1_0.Instance,
	physicalDevice core1_0.PhysicalDevice,
	device core1_0.Device,
	options CoreDeviceOptions,
) *CoreDevice {
	extensionData := NewExtensionData(device, physicalDevice, instance)

	return &CoreDevice{
		logger: logger,
		device: device,
		physicalDevice: &corePhysicalDevice{
			physicalDevice: physicalDevice,
			extensionData:  extensionData,
		},
		extensionData:       extensionData,
		allocationCallbacks: options.AllocationCallbacks,
		fdExporter:          options.FDExporter,
	}
}

func (d *CoreDevice) Handle() core1_0.Device {
	return d.device
}

func (d *CoreDevice) ExtensionData() *ExtensionData {
	return d.extensionData
}

func (d *CoreDevice) PhysicalDevice() PhysicalDevice {
	return d.physicalDevice
}

func (d *CoreDevice) CreateImage(info ImageCreateInfo) (RawImage, error) {
	d.logger.Debug("CoreDevice::CreateImage")

	queueFamilyIndices := make([]uint32, 0, len(info.QueueFamilyIndices))
	for _, index := range info.QueueFamilyIndices {
		queueFamilyIndices = append(queueFamilyIndices, uint32(index))
	}

	createInfo := core1_0.ImageCreateInfo{
		Flags:              info.Flags,
		ImageType:          info.ImageType,
		Format:             info.Format,
		Extent:             info.Extent,
		MipLevels:          info.MipLevels,
		ArrayLayers:        info.ArrayLayers,
		Samples:            info.Samples,
		Tiling:             info.Tiling,
		Usage:              info.Usage,
		SharingMode:        info.SharingMode,
		QueueFamilyIndices: queueFamilyIndices,
		InitialLayout:      info.InitialLayout,
	}

	if info.ExternalMemoryHandleTypes != 0 {
		if !d.extensionData.ExternalMemory {
			return nil, errors.New("attempted to create an image with external memory handle types, but VK_KHR_external_memory is not active")
		}

		createInfo.Next = khr_external_memory.ExternalMemoryImageCreateInfo{
			HandleTypes: info.ExternalMemoryHandleTypes,
		}
	}

	image, _, err := d.device.CreateImage(d.allocationCallbacks, createInfo)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s image", info.Format)
	}

	return &coreImage{
		device: d,
		image:  image,
		usage:  info.Usage,
	}, nil
}

func (d *CoreDevice) AllocateMemory(info MemoryAllocateInfo) (DeviceMemory, error) {
	d.logger.Debug("CoreDevice::AllocateMemory")

	allocInfo := core1_0.MemoryAllocateInfo{
		AllocationSize:  info.AllocationSize,
		MemoryTypeIndex: info.MemoryTypeIndex,
	}

	if info.ExportHandleTypes != 0 {
		if !d.extensionData.ExternalMemory {
			return nil, errors.New("attempted to allocate exportable memory, but VK_KHR_external_memory is not active")
		}

		exportInfo := khr_external_memory.ExportMemoryAllocateInfo{
			HandleTypes: info.ExportHandleTypes,
		}
		exportInfo.Next = allocInfo.Next
		allocInfo.Next = exportInfo
	}

	if info.DedicatedImage != nil && d.extensionData.DedicatedAllocations {
		image, ok := info.DedicatedImage.(*coreImage)
		if !ok {
			return nil, errors.Newf("dedicated image of type %T was not created by this device", info.DedicatedImage)
		}

		dedicatedAllocInfo := khr_dedicated_allocation.MemoryDedicatedAllocateInfo{
			Image: image.image,
		}
		dedicatedAllocInfo.Next = allocInfo.Next
		allocInfo.Next = dedicatedAllocInfo
	}

	memory, _, err := d.device.AllocateMemory(d.allocationCallbacks, allocInfo)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d bytes from memory type %d", info.AllocationSize, info.MemoryTypeIndex)
	}

	return &coreMemory{
		device:          d,
		memory:          memory,
		size:            info.AllocationSize,
		memoryTypeIndex: info.MemoryTypeIndex,
		handleTypes:     info.ExportHandleTypes,
	}, nil
}

func (d *CoreDevice) CreateImageView(info ImageViewCreateInfo) (ImageView, error) {
	d.logger.Debug("CoreDevice::CreateImageView")

	image, ok := info.Image.(*coreImage)
	if !ok {
		return nil, errors.Newf("image of type %T was not created by this device", info.Image)
	}

	createInfo := core1_0.ImageViewCreateInfo{
		Image:            image.image,
		ViewType:         info.ViewType,
		Format:           info.Format,
		SubresourceRange: info.SubresourceRange,
	}

	if info.Usage != 0 && info.Usage != image.usage {
		if !d.extensionData.ImageViewUsage {
			return nil, errors.Newf("attempted to restrict view usage to %s, but VK_KHR_maintenance2 is not active", info.Usage)
		}

		createInfo.Next = core1_1.ImageViewUsageCreateInfo{
			Usage: info.Usage,
		}
	}

	view, _, err := d.device.CreateImageView(d.allocationCallbacks, createInfo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image view")
	}

	return &coreImageView{
		device: d,
		view:   view,
	}, nil
}

type corePhysicalDevice struct {
	physicalDevice core1_0.PhysicalDevice
	extensionData  *ExtensionData
}

func (p *corePhysicalDevice) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return p.physicalDevice.MemoryProperties()
}

func (p *corePhysicalDevice) Properties() (*core1_0.PhysicalDeviceProperties, error) {
	return p.physicalDevice.Properties()
}

func (p *corePhysicalDevice) ImageFormatProperties(info ImageFormatInfo) (*ImageFormatProperties, error) {
	if info.ExternalMemoryHandleType == 0 {
		props, res, err := p.physicalDevice.ImageFormatProperties(info.Format, info.ImageType, info.Tiling, info.Usage, info.Flags)
		if res == core1_0.VKErrorFormatNotSupported {
			return nil, nil
		} else if err != nil {
			return nil, err
		}

		return &ImageFormatProperties{
			MaxExtent:       props.MaxExtent,
			MaxMipLevels:    props.MaxMipLevels,
			MaxArrayLayers:  props.MaxArrayLayers,
			SampleCounts:    props.SampleCounts,
			MaxResourceSize: props.MaxResourceSize,
		}, nil
	}

	if !p.extensionData.ExternalMemoryCapabilities {
		return nil, errors.New("attempted to query external memory properties, but VK_KHR_external_memory_capabilities is not active")
	}

	externalProps := khr_external_memory_capabilities.ExternalImageFormatProperties{}
	props := core1_1.ImageFormatProperties2{
		NextOutData: common.NextOutData{
			Next: &externalProps,
		},
	}

	res, err := p.extensionData.GetPhysicalDeviceProperties2.ImageFormatProperties2(
		core1_1.PhysicalDeviceImageFormatInfo2{
			Format: info.Format,
			Type:   info.ImageType,
			Tiling: info.Tiling,
			Usage:  info.Usage,
			Flags:  info.Flags,
			NextOptions: common.NextOptions{
				Next: khr_external_memory_capabilities.PhysicalDeviceExternalImageFormatInfo{
					HandleType: info.ExternalMemoryHandleType,
				},
			},
		},
		&props,
	)
	if res == core1_0.VKErrorFormatNotSupported {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	features := externalProps.ExternalMemoryProperties.ExternalMemoryFeatures
	return &ImageFormatProperties{
		MaxExtent:       props.ImageFormatProperties.MaxExtent,
		MaxMipLevels:    props.ImageFormatProperties.MaxMipLevels,
		MaxArrayLayers:  props.ImageFormatProperties.MaxArrayLayers,
		SampleCounts:    props.ImageFormatProperties.SampleCounts,
		MaxResourceSize: props.ImageFormatProperties.MaxResourceSize,
		ExternalMemoryProperties: ExternalMemoryProperties{
			Exportable:                    features&khr_external_memory_capabilities.ExternalMemoryFeatureExportable != 0,
			Importable:                    features&khr_external_memory_capabilities.ExternalMemoryFeatureImportable != 0,
			DedicatedOnly:                 features&khr_external_memory_capabilities.ExternalMemoryFeatureDedicatedOnly != 0,
			CompatibleHandleTypes:         externalProps.ExternalMemoryProperties.CompatibleHandleTypes,
			ExportFromImportedHandleTypes: externalProps.ExternalMemoryProperties.ExportFromImportedHandleTypes,
		},
	}, nil
}

type coreImage struct {
	device *CoreDevice
	image  core1_0.Image
	usage  core1_0.ImageUsageFlags
}

func (i *coreImage) Handle() core1_0.Image {
	return i.image
}

func (i *coreImage) MemoryRequirements() []MemoryRequirements {
	extensionData := i.device.extensionData
	if extensionData.DedicatedAllocations && extensionData.GetMemoryRequirements != nil {
		dedicatedReqs := khr_dedicated_allocation.MemoryDedicatedRequirements{}
		memReqs := core1_1.MemoryRequirements2{
			NextOutData: common.NextOutData{
				Next: &dedicatedReqs,
			},
		}

		err := extensionData.GetMemoryRequirements.ImageMemoryRequirements2(
			core1_1.ImageMemoryRequirementsInfo2{
				Image: i.image,
			},
			&memReqs)
		if err == nil {
			return []MemoryRequirements{
				{
					MemoryRequirements: memReqs.MemoryRequirements,
					PrefersDedicated:   dedicatedReqs.PrefersDedicatedAllocation,
					RequiresDedicated:  dedicatedReqs.RequiresDedicatedAllocation,
				},
			}
		}

		i.device.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to query dedicated requirements, falling back to core requirements",
			slog.Any("error", err))
	}

	return []MemoryRequirements{
		{MemoryRequirements: *i.image.MemoryRequirements()},
	}
}

func (i *coreImage) BindMemory(bindings []MemoryBinding) error {
	if len(bindings) != 1 {
		return errors.Newf("attempted to bind %d planes to a single-plane image", len(bindings))
	}

	memory, ok := bindings[0].Memory.(*coreMemory)
	if !ok {
		return errors.Newf("memory of type %T was not allocated by this device", bindings[0].Memory)
	}

	_, err := i.image.BindImageMemory(memory.memory, bindings[0].Offset)
	return err
}

func (i *coreImage) Destroy() {
	i.image.Destroy(i.device.allocationCallbacks)
}

type coreMemory struct {
	device          *CoreDevice
	memory          core1_0.DeviceMemory
	size            int
	memoryTypeIndex int
	handleTypes     ExternalMemoryHandleTypeFlags
}

func (m *coreMemory) Handle() core1_0.DeviceMemory {
	return m.memory
}

func (m *coreMemory) AllocationSize() int {
	return m.size
}

func (m *coreMemory) MemoryTypeIndex() int {
	return m.memoryTypeIndex
}

func (m *coreMemory) ExportFD(handleType ExternalMemoryHandleTypeFlags) (int, error) {
	if m.handleTypes&handleType == 0 {
		return -1, errors.Newf("memory was not allocated as exportable to handle type %s", handleType)
	}

	if m.device.fdExporter == nil {
		return -1, errors.New("attempted to export memory, but no FDExporter was provided")
	}

	return m.device.fdExporter.ExportFD(m.memory, handleType)
}

func (m *coreMemory) Free() {
	m.memory.Free(m.device.allocationCallbacks)
}

type coreImageView struct {
	device *CoreDevice
	view   core1_0.ImageView
}

func (v *coreImageView) Handle() core1_0.ImageView {
	return v.view
}

func (v *coreImageView) Destroy() {
	v.view.Destroy(v.device.allocationCallbacks)
}
