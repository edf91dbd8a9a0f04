package vulkan

import "github.com/vkngwrapper/core/v2/core1_0"

// FormatCompression identifies the block compression scheme used by a format, if any
type FormatCompression uint32

const (
	CompressionNone FormatCompression = iota
	CompressionBC
	CompressionETC2
	CompressionEAC
	CompressionASTCLDR
	CompressionASTCHDR
	CompressionPVRTC
)

var formatCompressionMapping = map[FormatCompression]string{
	CompressionNone:    "None",
	CompressionBC:      "BC",
	CompressionETC2:    "ETC2",
	CompressionEAC:     "EAC",
	CompressionASTCLDR: "ASTC_LDR",
	CompressionASTCHDR: "ASTC_HDR",
	CompressionPVRTC:   "PVRTC",
}

func (c FormatCompression) String() string {
	str, ok := formatCompressionMapping[c]
	if !ok {
		return "unknown"
	}
	return str
}

// The compressed ranges are contiguous in the core enum. PVRTC and ASTC HDR come from
// extensions that core does not name, so their ranges are fixed by extension number.
const (
	formatBCFirst      = core1_0.FormatBC1_RGBUnsignedNormalized
	formatBCLast       = core1_0.FormatBC7_sRGB
	formatETC2First    = core1_0.FormatETC2_R8G8B8UnsignedNormalized
	formatETC2Last     = core1_0.FormatETC2_R8G8B8A8sRGB
	formatEACFirst     = core1_0.FormatEAC_R11UnsignedNormalized
	formatEACLast      = core1_0.FormatEAC_R11G11SignedNormalized
	formatASTCFirst    = core1_0.FormatASTC4x4_UnsignedNormalized
	formatASTCLast     = core1_0.FormatASTC12x12_sRGB
	formatPVRTCFirst   core1_0.Format = 1000054000
	formatPVRTCLast    core1_0.Format = 1000054007
	formatASTCHDRFirst core1_0.Format = 1000066000
	formatASTCHDRLast  core1_0.Format = 1000066013
)

// Compression reports the block compression scheme of format
func Compression(format core1_0.Format) FormatCompression {
	switch {
	case format >= formatBCFirst && format <= formatBCLast:
		return CompressionBC
	case format >= formatETC2First && format <= formatETC2Last:
		return CompressionETC2
	case format >= formatEACFirst && format <= formatEACLast:
		return CompressionEAC
	case format >= formatASTCFirst && format <= formatASTCLast:
		return CompressionASTCLDR
	case format >= formatASTCHDRFirst && format <= formatASTCHDRLast:
		return CompressionASTCHDR
	case format >= formatPVRTCFirst && format <= formatPVRTCLast:
		return CompressionPVRTC
	}

	return CompressionNone
}

// IsCompressed returns true for block-compressed formats
func IsCompressed(format core1_0.Format) bool {
	return Compression(format) != CompressionNone
}

// FormatAspects returns the aspects present in format: depth and/or stencil for depth/stencil
// formats, color for everything else
func FormatAspects(format core1_0.Format) core1_0.ImageAspectFlags {
	switch format {
	case core1_0.FormatD16UnsignedNormalized, core1_0.FormatD24X8UnsignedNormalizedPacked, core1_0.FormatD32SignedFloat:
		return core1_0.ImageAspectDepth
	case core1_0.FormatS8UnsignedInt:
		return core1_0.ImageAspectStencil
	case core1_0.FormatD16UnsignedNormalizedS8UnsignedInt, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt, core1_0.FormatD32SignedFloatS8UnsignedInt:
		return core1_0.ImageAspectDepth | core1_0.ImageAspectStencil
	}

	return core1_0.ImageAspectColor
}

// IsDepthStencil returns true if format has a depth or stencil aspect
func IsDepthStencil(format core1_0.Format) bool {
	return FormatAspects(format)&(core1_0.ImageAspectDepth|core1_0.ImageAspectStencil) != 0
}
