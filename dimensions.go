package imageres

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// DimensionsKind identifies the shape of an image
type DimensionsKind uint32

const (
	DimensionsKind1D DimensionsKind = iota
	DimensionsKind2D
	DimensionsKind3D
	DimensionsKindCube
	DimensionsKindCubeArray
)

var dimensionsKindMapping = map[DimensionsKind]string{
	DimensionsKind1D:        "1D",
	DimensionsKind2D:        "2D",
	DimensionsKind3D:        "3D",
	DimensionsKindCube:      "Cube",
	DimensionsKindCubeArray: "CubeArray",
}

func (k DimensionsKind) String() string {
	str, ok := dimensionsKindMapping[k]
	if !ok {
		return "unknown DimensionsKind"
	}
	return str
}

// Dimensions is the size and shape of an image. Build one with Dim1D, Dim2D, Dim3D, DimCube, or
// DimCubeArray.
type Dimensions struct {
	kind   DimensionsKind
	width  int
	height int
	depth  int
	layers int
}

// Dim1D is a one-dimensional image with layers array layers
func Dim1D(width, layers int) Dimensions {
	return Dimensions{kind: DimensionsKind1D, width: width, height: 1, depth: 1, layers: layers}
}

// Dim2D is a two-dimensional image with layers array layers
func Dim2D(width, height, layers int) Dimensions {
	return Dimensions{kind: DimensionsKind2D, width: width, height: height, depth: 1, layers: layers}
}

func Dim3D(width, height, depth int) Dimensions {
	return Dimensions{kind: DimensionsKind3D, width: width, height: height, depth: depth, layers: 1}
}

// DimCube is a cube map with square faces of size texels on a side
func DimCube(size int) Dimensions {
	return Dimensions{kind: DimensionsKindCube, width: size, height: size, depth: 1, layers: 1}
}

// DimCubeArray is an array of cubes cube maps with square faces of size texels on a side
func DimCubeArray(size, cubes int) Dimensions {
	return Dimensions{kind: DimensionsKindCubeArray, width: size, height: size, depth: 1, layers: cubes}
}

func (d Dimensions) Kind() DimensionsKind { return d.kind }
func (d Dimensions) Width() int           { return d.width }
func (d Dimensions) Height() int          { return d.height }
func (d Dimensions) Depth() int           { return d.depth }

// ArrayLayers is the number of layers of the image. Each cube is 6 layers.
func (d Dimensions) ArrayLayers() int {
	switch d.kind {
	case DimensionsKindCube, DimensionsKindCubeArray:
		return d.layers * 6
	}

	return d.layers
}

func (d Dimensions) Extent() core1_0.Extent3D {
	return core1_0.Extent3D{
		Width:  d.width,
		Height: d.height,
		Depth:  d.depth,
	}
}

func (d Dimensions) ImageType() core1_0.ImageType {
	switch d.kind {
	case DimensionsKind1D:
		return core1_0.ImageType1D
	case DimensionsKind3D:
		return core1_0.ImageType3D
	}

	return core1_0.ImageType2D
}

// ViewType is the type of a view over every layer of the image
func (d Dimensions) ViewType() core1_0.ImageViewType {
	switch d.kind {
	case DimensionsKind1D:
		if d.layers > 1 {
			return core1_0.ImageViewType1DArray
		}
		return core1_0.ImageViewType1D
	case DimensionsKind2D:
		if d.layers > 1 {
			return core1_0.ImageViewType2DArray
		}
		return core1_0.ImageViewType2D
	case DimensionsKind3D:
		return core1_0.ImageViewType3D
	case DimensionsKindCube:
		return core1_0.ImageViewTypeCube
	case DimensionsKindCubeArray:
		return core1_0.ImageViewTypeCubeArray
	}

	panic(fmt.Sprintf("unexpected dimensions kind: %s", d.kind))
}

// CreateFlags are the flags an image of these dimensions must be created with
func (d Dimensions) CreateFlags() core1_0.ImageCreateFlags {
	switch d.kind {
	case DimensionsKindCube, DimensionsKindCubeArray:
		return core1_0.ImageCreateCubeCompatible
	}

	return 0
}

// Validate returns ErrInvalidDimensions if any extent or the layer count is not positive
func (d Dimensions) Validate() error {
	if _, ok := dimensionsKindMapping[d.kind]; !ok {
		return errors.Wrapf(ErrInvalidDimensions, "unknown dimensions kind %d", d.kind)
	}
	if d.width < 1 || d.height < 1 || d.depth < 1 || d.layers < 1 {
		return errors.Wrapf(ErrInvalidDimensions, "%s", d)
	}

	return nil
}

func (d Dimensions) String() string {
	switch d.kind {
	case DimensionsKind1D:
		return fmt.Sprintf("1D(%d, layers: %d)", d.width, d.layers)
	case DimensionsKind2D:
		return fmt.Sprintf("2D(%dx%d, layers: %d)", d.width, d.height, d.layers)
	case DimensionsKind3D:
		return fmt.Sprintf("3D(%dx%dx%d)", d.width, d.height, d.depth)
	case DimensionsKindCube:
		return fmt.Sprintf("Cube(%d)", d.width)
	case DimensionsKindCubeArray:
		return fmt.Sprintf("CubeArray(%d, cubes: %d)", d.width, d.layers)
	}

	return "unknown dimensions"
}
