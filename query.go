package imageres

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"golang.org/x/exp/slices"
)

func checkFormat(format core1_0.Format) error {
	if vulkan.IsCompressed(format) {
		return errors.Wrapf(ErrCompressedFormat, "format %s uses %s compression", format, vulkan.Compression(format))
	}

	return nil
}

func checkFlags(flags core1_0.ImageCreateFlags) error {
	if flags&core1_1.ImageCreateDisjoint != 0 {
		return errors.Wrapf(ErrDisjointImage, "create flags %s", flags)
	}

	return nil
}

// sharingMode picks concurrent sharing when at least two distinct queue families will use the
// image. Only concurrent images keep their queue family indices.
func sharingMode(queueFamilyIndices []int) (core1_0.SharingMode, []int) {
	var distinct []int
	for _, index := range queueFamilyIndices {
		if !slices.Contains(distinct, index) {
			distinct = append(distinct, index)
		}
	}

	if len(distinct) < 2 {
		return core1_0.SharingModeExclusive, nil
	}

	return core1_0.SharingModeConcurrent, distinct
}

func buildCreateInfo(
	dimensions Dimensions,
	format core1_0.Format,
	usage core1_0.ImageUsageFlags,
	flags core1_0.ImageCreateFlags,
	queueFamilyIndices []int,
	handleTypes vulkan.ExternalMemoryHandleTypeFlags,
) (vulkan.ImageCreateInfo, error) {
	err := dimensions.Validate()
	if err != nil {
		return vulkan.ImageCreateInfo{}, err
	}

	err = checkFormat(format)
	if err != nil {
		return vulkan.ImageCreateInfo{}, err
	}

	flags |= dimensions.CreateFlags()
	err = checkFlags(flags)
	if err != nil {
		return vulkan.ImageCreateInfo{}, err
	}

	mode, indices := sharingMode(queueFamilyIndices)

	return vulkan.ImageCreateInfo{
		Flags:                     flags,
		ImageType:                 dimensions.ImageType(),
		Format:                    format,
		Extent:                    dimensions.Extent(),
		MipLevels:                 1,
		ArrayLayers:               dimensions.ArrayLayers(),
		Samples:                   core1_0.Samples1,
		Tiling:                    core1_0.ImageTilingOptimal,
		Usage:                     usage,
		SharingMode:               mode,
		QueueFamilyIndices:        indices,
		InitialLayout:             core1_0.ImageLayoutUndefined,
		ExternalMemoryHandleTypes: handleTypes,
	}, nil
}

// queryRequirements returns the requirements of the image's only plane
func queryRequirements(raw vulkan.RawImage) (vulkan.MemoryRequirements, error) {
	requirements := raw.MemoryRequirements()
	if len(requirements) == 0 {
		return vulkan.MemoryRequirements{}, errors.New("the driver reported no memory requirements for the image")
	}

	return requirements[0], nil
}

// queryExternalMemory asks the device whether memory for an image built from info can be
// exported as handleType
func queryExternalMemory(
	device vulkan.Device,
	info vulkan.ImageCreateInfo,
	handleType vulkan.ExternalMemoryHandleTypeFlags,
) (*vulkan.ExternalMemoryProperties, error) {
	props, err := device.PhysicalDevice().ImageFormatProperties(vulkan.ImageFormatInfo{
		Flags:                    info.Flags,
		Format:                   info.Format,
		ImageType:                info.ImageType,
		Tiling:                   info.Tiling,
		Usage:                    info.Usage,
		ExternalMemoryHandleType: handleType,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query external memory support for format %s", info.Format)
	}

	if props == nil {
		return nil, errors.Wrapf(ErrNotExportable, "format %s with usage %s is not supported with handle type %s", info.Format, info.Usage, handleType)
	}

	if !props.ExternalMemoryProperties.Exportable {
		return nil, errors.Wrapf(ErrNotExportable, "format %s with usage %s cannot be exported as %s", info.Format, info.Usage, handleType)
	}

	return &props.ExternalMemoryProperties, nil
}
