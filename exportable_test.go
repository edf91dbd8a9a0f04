package imageres_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/imageres"
	"github.com/vkngwrapper/arsenal/imageres/memory"
	"github.com/vkngwrapper/arsenal/imageres/mocks"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
)

const exportUsage = core1_0.ImageUsageSampled | core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferDst

func TestNewExportable(t *testing.T) {
	setup := readySetup(t)

	image, err := imageres.NewExportable(testLogger(), setup.allocator, imageres.Dim2D(64, 32, 1), core1_0.FormatR8G8B8A8UnsignedNormalized, exportUsage, 0, []int{0, 1})
	require.NoError(t, err)

	require.Equal(t, exportUsage, image.Usage())
	require.Equal(t, core1_0.SharingModeConcurrent, image.SharingMode())
	require.True(t, image.IsDedicated())
	require.Equal(t, 64*32*4, image.AllocationSize())
	require.Equal(t, image.AllocationSize(), image.MemorySize())

	queries := setup.device.FakePhysicalDevice().FormatQueries()
	require.Equal(t, []vulkan.ImageFormatInfo{
		{
			Format:                   core1_0.FormatR8G8B8A8UnsignedNormalized,
			ImageType:                core1_0.ImageType2D,
			Tiling:                   core1_0.ImageTilingOptimal,
			Usage:                    exportUsage,
			ExternalMemoryHandleType: vulkan.HandleTypeOpaqueFD,
		},
	}, queries)

	images := setup.device.Images()
	require.Len(t, images, 1)
	require.Equal(t, vulkan.HandleTypeOpaqueFD, images[0].Info.ExternalMemoryHandleTypes)

	memories := setup.device.Memories()
	require.Len(t, memories, 1)
	require.Equal(t, vulkan.HandleTypeOpaqueFD, memories[0].Info.ExportHandleTypes)
	require.Same(t, image.Raw(), memories[0].Info.DedicatedImage)

	fd, err := image.ExportFD()
	require.NoError(t, err)
	require.Equal(t, 100, fd)

	require.NoError(t, image.Release())
	require.True(t, memories[0].Freed())
	setup.teardown(t)
}

func TestNewExportable_CloneExports(t *testing.T) {
	setup := readySetup(t)

	image, err := imageres.NewExportable(testLogger(), setup.allocator, imageres.Dim2D(16, 16, 1), core1_0.FormatR8G8B8A8UnsignedNormalized, exportUsage, 0, nil)
	require.NoError(t, err)

	clone := image.Clone()
	require.True(t, clone.Equal(image.StorageImage))
	require.NoError(t, image.Release())

	_, err = image.ExportFD()
	require.True(t, errors.Is(err, imageres.ErrAlreadyReleased))

	fd, err := clone.ExportFD()
	require.NoError(t, err)
	require.Equal(t, 100, fd)

	require.NoError(t, clone.Release())
	setup.teardown(t)
}

func TestNewExportable_NotExportable(t *testing.T) {
	testCases := []struct {
		name       string
		properties *vulkan.ImageFormatProperties
	}{
		{name: "Unsupported", properties: nil},
		{name: "Not Exportable", properties: &vulkan.ImageFormatProperties{
			ExternalMemoryProperties: vulkan.ExternalMemoryProperties{Importable: true},
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			setup := readySetup(t)
			setup.device.FakePhysicalDevice().FormatProperties = func(info vulkan.ImageFormatInfo) (*vulkan.ImageFormatProperties, error) {
				return testCase.properties, nil
			}

			_, err := imageres.NewExportable(testLogger(), setup.allocator, imageres.Dim2D(16, 16, 1), core1_0.FormatR8G8B8A8UnsignedNormalized, exportUsage, 0, nil)
			require.True(t, errors.Is(err, imageres.ErrNotExportable))
			require.Empty(t, setup.device.Images())
			require.Empty(t, setup.device.Memories())

			setup.teardown(t)
		})
	}
}

func TestNewExportable_QueryFailure(t *testing.T) {
	setup := readySetup(t)
	setup.device.FakePhysicalDevice().FormatProperties = func(info vulkan.ImageFormatInfo) (*vulkan.ImageFormatProperties, error) {
		return nil, errors.New("device lost")
	}

	_, err := imageres.NewExportable(testLogger(), setup.allocator, imageres.Dim2D(16, 16, 1), core1_0.FormatR8G8B8A8UnsignedNormalized, exportUsage, 0, nil)
	require.ErrorContains(t, err, "device lost")
	require.False(t, errors.Is(err, imageres.ErrNotExportable))
	require.Empty(t, setup.device.Images())

	setup.teardown(t)
}

func TestNewExportable_ConfigurationBeforeQuery(t *testing.T) {
	setup := readySetup(t)

	_, err := imageres.NewExportable(testLogger(), setup.allocator, imageres.Dim2D(16, 16, 1), formatBC1RGBUnorm, exportUsage, 0, nil)
	require.True(t, errors.Is(err, imageres.ErrCompressedFormat))
	require.Empty(t, setup.device.FakePhysicalDevice().FormatQueries())

	setup.teardown(t)
}

func TestNewExportable_NoSuitableMemoryType(t *testing.T) {
	setup := readySetup(t)
	setup.device.Requirements = func(info vulkan.ImageCreateInfo) vulkan.MemoryRequirements {
		var requirements vulkan.MemoryRequirements
		requirements.Size = 4096
		requirements.Alignment = 256
		requirements.MemoryTypeBits = 0
		return requirements
	}

	_, err := imageres.NewExportable(testLogger(), setup.allocator, imageres.Dim2D(16, 16, 1), core1_0.FormatR8G8B8A8UnsignedNormalized, exportUsage, 0, nil)

	var allocErr *imageres.AllocationError
	require.True(t, errors.As(err, &allocErr))
	require.True(t, errors.Is(err, memory.ErrNoSuitableMemoryType))
	require.Equal(t, 0, setup.device.LiveImages())
	require.Empty(t, setup.device.Memories())

	setup.teardown(t)
}

func TestNewExportable_AllocatorCalls(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := mocks.NewMockMemoryAllocator(ctrl)
	physicalDevice := mocks.NewMockPhysicalDevice(ctrl)
	device := mocks.NewMockDevice(ctrl)
	raw := mocks.NewMockRawImage(ctrl)
	alloc := mocks.NewMockAllocation(ctrl)
	deviceMemory := mocks.NewMockDeviceMemory(ctrl)

	var requirements vulkan.MemoryRequirements
	requirements.Size = 8192
	requirements.Alignment = 1024
	requirements.MemoryTypeBits = 0b110

	allocator.EXPECT().Device().Return(device)
	device.EXPECT().PhysicalDevice().Return(physicalDevice)
	physicalDevice.EXPECT().ImageFormatProperties(gomock.Any()).Return(&vulkan.ImageFormatProperties{
		ExternalMemoryProperties: vulkan.ExternalMemoryProperties{Exportable: true},
	}, nil)
	device.EXPECT().CreateImage(gomock.Any()).Return(raw, nil)
	raw.EXPECT().MemoryRequirements().Return([]vulkan.MemoryRequirements{requirements})
	allocator.EXPECT().FindMemoryTypeIndex(uint32(0b110), memory.MemoryUsageGPUOnly).Return(2, nil)
	allocator.EXPECT().AllocateDedicated(2, 8192, raw, vulkan.HandleTypeOpaqueFD).Return(alloc, nil)
	alloc.EXPECT().Offset().Return(0).AnyTimes()
	alloc.EXPECT().Size().Return(8192).AnyTimes()
	alloc.EXPECT().Memory().Return(deviceMemory).AnyTimes()
	raw.EXPECT().BindMemory([]vulkan.MemoryBinding{{Memory: deviceMemory, Offset: 0}}).Return(nil)

	image, err := imageres.NewExportable(testLogger(), allocator, imageres.Dim2D(32, 64, 1), core1_0.FormatR8G8B8A8UnsignedNormalized, exportUsage, 0, nil)
	require.NoError(t, err)

	deviceMemory.EXPECT().ExportFD(vulkan.HandleTypeOpaqueFD).Return(-1, errors.New("too many open files"))
	_, err = image.ExportFD()
	require.ErrorContains(t, err, "too many open files")

	gomock.InOrder(
		alloc.EXPECT().Free().Return(nil),
		raw.EXPECT().Destroy(),
	)
	require.NoError(t, image.Release())
}

func TestNewExportable_FindMemoryTypeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)

	allocator := mocks.NewMockMemoryAllocator(ctrl)
	physicalDevice := mocks.NewMockPhysicalDevice(ctrl)
	device := mocks.NewMockDevice(ctrl)
	raw := mocks.NewMockRawImage(ctrl)

	var requirements vulkan.MemoryRequirements
	requirements.Size = 8192
	requirements.Alignment = 1024
	requirements.MemoryTypeBits = 0b1

	allocator.EXPECT().Device().Return(device)
	device.EXPECT().PhysicalDevice().Return(physicalDevice)
	physicalDevice.EXPECT().ImageFormatProperties(gomock.Any()).Return(&vulkan.ImageFormatProperties{
		ExternalMemoryProperties: vulkan.ExternalMemoryProperties{Exportable: true},
	}, nil)
	device.EXPECT().CreateImage(gomock.Any()).Return(raw, nil)
	raw.EXPECT().MemoryRequirements().Return([]vulkan.MemoryRequirements{requirements})
	allocator.EXPECT().FindMemoryTypeIndex(uint32(0b1), memory.MemoryUsageGPUOnly).Return(-1, errors.New("no memory type"))
	raw.EXPECT().Destroy()

	_, err := imageres.NewExportable(testLogger(), allocator, imageres.Dim2D(32, 64, 1), core1_0.FormatR8G8B8A8UnsignedNormalized, exportUsage, 0, nil)

	var allocErr *imageres.AllocationError
	require.True(t, errors.As(err, &allocErr))
	require.True(t, errors.Is(err, memory.ErrNoSuitableMemoryType))
}
