package imageres_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/imageres"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func TestDimensions(t *testing.T) {
	testCases := []struct {
		name           string
		dimensions     imageres.Dimensions
		kind           imageres.DimensionsKind
		extent         core1_0.Extent3D
		arrayLayers    int
		imageType      core1_0.ImageType
		viewType       core1_0.ImageViewType
		createFlags    core1_0.ImageCreateFlags
		expectedString string
	}{
		{
			name:           "1D",
			dimensions:     imageres.Dim1D(128, 1),
			kind:           imageres.DimensionsKind1D,
			extent:         core1_0.Extent3D{Width: 128, Height: 1, Depth: 1},
			arrayLayers:    1,
			imageType:      core1_0.ImageType1D,
			viewType:       core1_0.ImageViewType1D,
			expectedString: "1D(128, layers: 1)",
		},
		{
			name:           "2D Array",
			dimensions:     imageres.Dim2D(64, 32, 8),
			kind:           imageres.DimensionsKind2D,
			extent:         core1_0.Extent3D{Width: 64, Height: 32, Depth: 1},
			arrayLayers:    8,
			imageType:      core1_0.ImageType2D,
			viewType:       core1_0.ImageViewType2DArray,
			expectedString: "2D(64x32, layers: 8)",
		},
		{
			name:           "3D",
			dimensions:     imageres.Dim3D(16, 8, 4),
			kind:           imageres.DimensionsKind3D,
			extent:         core1_0.Extent3D{Width: 16, Height: 8, Depth: 4},
			arrayLayers:    1,
			imageType:      core1_0.ImageType3D,
			viewType:       core1_0.ImageViewType3D,
			expectedString: "3D(16x8x4)",
		},
		{
			name:           "Cube",
			dimensions:     imageres.DimCube(256),
			kind:           imageres.DimensionsKindCube,
			extent:         core1_0.Extent3D{Width: 256, Height: 256, Depth: 1},
			arrayLayers:    6,
			imageType:      core1_0.ImageType2D,
			viewType:       core1_0.ImageViewTypeCube,
			createFlags:    core1_0.ImageCreateCubeCompatible,
			expectedString: "Cube(256)",
		},
		{
			name:           "Cube Array",
			dimensions:     imageres.DimCubeArray(32, 3),
			kind:           imageres.DimensionsKindCubeArray,
			extent:         core1_0.Extent3D{Width: 32, Height: 32, Depth: 1},
			arrayLayers:    18,
			imageType:      core1_0.ImageType2D,
			viewType:       core1_0.ImageViewTypeCubeArray,
			createFlags:    core1_0.ImageCreateCubeCompatible,
			expectedString: "CubeArray(32, cubes: 3)",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			require.NoError(t, testCase.dimensions.Validate())
			require.Equal(t, testCase.kind, testCase.dimensions.Kind())
			require.Equal(t, testCase.extent, testCase.dimensions.Extent())
			require.Equal(t, testCase.arrayLayers, testCase.dimensions.ArrayLayers())
			require.Equal(t, testCase.imageType, testCase.dimensions.ImageType())
			require.Equal(t, testCase.viewType, testCase.dimensions.ViewType())
			require.Equal(t, testCase.createFlags, testCase.dimensions.CreateFlags())
			require.Equal(t, testCase.expectedString, testCase.dimensions.String())
		})
	}
}

func TestDimensions_Validate(t *testing.T) {
	invalid := []imageres.Dimensions{
		imageres.Dim1D(0, 1),
		imageres.Dim1D(16, 0),
		imageres.Dim2D(16, -1, 1),
		imageres.Dim3D(16, 16, 0),
		imageres.DimCube(0),
		imageres.DimCubeArray(16, 0),
	}

	for _, dimensions := range invalid {
		err := dimensions.Validate()
		require.True(t, errors.Is(err, imageres.ErrInvalidDimensions), dimensions.String())
		require.True(t, errors.Is(err, imageres.ErrConfiguration), dimensions.String())
	}
}

func TestDefaultUsage(t *testing.T) {
	require.Equal(t, imageres.BaselineUsage|core1_0.ImageUsageColorAttachment, imageres.DefaultUsage(core1_0.FormatR8G8B8A8UnsignedNormalized))
	require.Equal(t, imageres.BaselineUsage|core1_0.ImageUsageDepthStencilAttachment, imageres.DefaultUsage(core1_0.FormatD32SignedFloat))
	require.Equal(t, imageres.BaselineUsage|core1_0.ImageUsageDepthStencilAttachment, imageres.DefaultUsage(core1_0.FormatD24UnsignedNormalizedS8UnsignedInt))
}
