package imageres

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// ExportableImage is a StorageImage with a dedicated allocation of device memory that can be
// exported as a posix file descriptor
type ExportableImage struct {
	*StorageImage
}

// NewExportable creates a storage image with exactly the provided usage, and binds a dedicated
// allocation of device-local memory to it that can be exported with ExportFD. It returns
// ErrNotExportable if the device cannot export memory for this format and usage.
func NewExportable(
	logger *slog.Logger,
	allocator MemoryAllocator,
	dimensions Dimensions,
	format core1_0.Format,
	usage core1_0.ImageUsageFlags,
	flags core1_0.ImageCreateFlags,
	queueFamilyIndices []int,
) (*ExportableImage, error) {
	logger.Debug("ExportableImage::NewExportable")

	if allocator == nil {
		return nil, errors.New("attempted to create an image with a nil allocator")
	}

	handleTypes := vulkan.HandleTypeOpaqueFD
	createInfo, err := buildCreateInfo(dimensions, format, usage, flags, queueFamilyIndices, handleTypes)
	if err != nil {
		return nil, err
	}

	device := allocator.Device()
	_, err = queryExternalMemory(device, createInfo, handleTypes)
	if err != nil {
		return nil, err
	}

	raw, err := device.CreateImage(createInfo)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create exportable %s image", dimensions)
	}

	requirements, err := queryRequirements(raw)
	if err != nil {
		raw.Destroy()
		return nil, err
	}

	alloc, err := allocateExportable(allocator, raw, requirements, handleTypes)
	if err != nil {
		raw.Destroy()
		return nil, err
	}

	image, err := bindImage(logger, device, raw, alloc, requirements, dimensions, createInfo)
	if err != nil {
		return nil, err
	}

	return &ExportableImage{StorageImage: image}, nil
}

// Clone returns a new reference to the same image
func (i *ExportableImage) Clone() *ExportableImage {
	return &ExportableImage{StorageImage: i.StorageImage.Clone()}
}

// ExportFD returns a posix file descriptor for the image's device memory. The caller owns the
// file descriptor.
func (i *ExportableImage) ExportFD() (int, error) {
	i.state.logger.Debug("ExportableImage::ExportFD")

	if i.released.Load() {
		return -1, ErrAlreadyReleased
	}

	fd, err := i.state.allocation.Memory().ExportFD(vulkan.HandleTypeOpaqueFD)
	if err != nil {
		return -1, errors.Wrap(err, "failed to export image memory")
	}

	return fd, nil
}
