package imageres

import (
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// BaselineUsage is granted to every image built with New, whatever its format
const BaselineUsage = core1_0.ImageUsageTransferSrc |
	core1_0.ImageUsageTransferDst |
	core1_0.ImageUsageSampled |
	core1_0.ImageUsageStorage |
	core1_0.ImageUsageInputAttachment

// viewUsage is the usage that an image view can actually be used for. A view whose usage
// includes none of these is useless and is rejected.
const viewUsage = core1_0.ImageUsageSampled |
	core1_0.ImageUsageStorage |
	core1_0.ImageUsageColorAttachment |
	core1_0.ImageUsageDepthStencilAttachment |
	core1_0.ImageUsageTransientAttachment |
	core1_0.ImageUsageInputAttachment

// DefaultUsage is BaselineUsage plus depth/stencil attachment usage for depth/stencil formats,
// or color attachment usage for everything else
func DefaultUsage(format core1_0.Format) core1_0.ImageUsageFlags {
	if vulkan.IsDepthStencil(format) {
		return BaselineUsage | core1_0.ImageUsageDepthStencilAttachment
	}

	return BaselineUsage | core1_0.ImageUsageColorAttachment
}

// DescriptorLayouts are the layouts an image must be in when it is accessed through each kind
// of descriptor
type DescriptorLayouts struct {
	StorageImage         core1_0.ImageLayout
	CombinedImageSampler core1_0.ImageLayout
	SampledImage         core1_0.ImageLayout
	InputAttachment      core1_0.ImageLayout
}

var generalDescriptorLayouts = DescriptorLayouts{
	StorageImage:         core1_0.ImageLayoutGeneral,
	CombinedImageSampler: core1_0.ImageLayoutGeneral,
	SampledImage:         core1_0.ImageLayoutGeneral,
	InputAttachment:      core1_0.ImageLayoutGeneral,
}
