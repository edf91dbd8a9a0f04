package imageres

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// ImageView is a view over every layer of a StorageImage. The view holds its own reference to
// the image, which is released when the view is destroyed.
type ImageView struct {
	image *StorageImage
	view  vulkan.ImageView

	viewType         core1_0.ImageViewType
	usage            core1_0.ImageUsageFlags
	subresourceRange core1_0.ImageSubresourceRange

	destroyed atomic.Bool
}

// NewDefaultView creates a view over the whole image with all of the image's usage
func NewDefaultView(image *StorageImage) (*ImageView, error) {
	if image == nil {
		return nil, errors.New("attempted to create a view of a nil image")
	}

	return NewView(image, image.Usage())
}

// NewView creates a view over the whole image, restricted to usage. If usage includes anything
// the image was not created with, or nothing a view can be used for, a ViewCreationError with
// ViewErrorMissingUsage is returned and the device is never called.
func NewView(image *StorageImage, usage core1_0.ImageUsageFlags) (*ImageView, error) {
	if image == nil {
		return nil, errors.New("attempted to create a view of a nil image")
	}
	image.state.logger.Debug("ImageView::NewView")

	if image.released.Load() {
		return nil, ErrAlreadyReleased
	}

	missing := usage & ^image.Usage()
	if missing != 0 {
		return nil, &ViewCreationError{
			Kind:  ViewErrorMissingUsage,
			Cause: errors.Wrapf(ErrImageMissingUsage, "the view requires %s", missing),
		}
	}

	if usage&viewUsage == 0 {
		return nil, &ViewCreationError{
			Kind:  ViewErrorMissingUsage,
			Cause: errors.Wrapf(ErrImageMissingUsage, "usage %s does not allow the view to be used for anything", usage),
		}
	}

	viewType := image.Dimensions().ViewType()
	subresourceRange := image.SubresourceRange()

	view, err := image.Device().CreateImageView(vulkan.ImageViewCreateInfo{
		Image:            image.Raw(),
		ViewType:         viewType,
		Format:           image.Format(),
		Usage:            usage,
		SubresourceRange: subresourceRange,
	})
	if err != nil {
		return nil, &ViewCreationError{
			Kind:  ViewErrorDriver,
			Cause: err,
		}
	}

	return &ImageView{
		image:            image.Clone(),
		view:             view,
		viewType:         viewType,
		usage:            usage,
		subresourceRange: subresourceRange,
	}, nil
}

// GeneralPurposeImageView creates a single-layer 2D image with exactly the provided usage and
// returns a default view of it. The view holds the only reference to the image.
func GeneralPurposeImageView(
	logger *slog.Logger,
	allocator MemoryAllocator,
	queueFamilyIndex int,
	width, height int,
	format core1_0.Format,
	usage core1_0.ImageUsageFlags,
) (*ImageView, error) {
	logger.Debug("ImageView::GeneralPurposeImageView")

	image, err := NewWithUsage(logger, allocator, Dim2D(width, height, 1), format, usage, 0, []int{queueFamilyIndex})
	if err != nil {
		return nil, err
	}

	view, err := NewDefaultView(image)

	// The view holds its own reference when it succeeds
	releaseErr := image.Release()
	if releaseErr != nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "failed to release general purpose image", slog.Any("error", releaseErr))
	}

	if err != nil {
		return nil, err
	}

	return view, nil
}

func (v *ImageView) Image() *StorageImage                            { return v.image }
func (v *ImageView) Raw() vulkan.ImageView                           { return v.view }
func (v *ImageView) ViewType() core1_0.ImageViewType                 { return v.viewType }
func (v *ImageView) Usage() core1_0.ImageUsageFlags                  { return v.usage }
func (v *ImageView) SubresourceRange() core1_0.ImageSubresourceRange { return v.subresourceRange }

// Destroy destroys the view and releases its reference to the image
func (v *ImageView) Destroy() error {
	if !v.destroyed.CompareAndSwap(false, true) {
		return ErrViewDestroyed
	}
	v.image.state.logger.Debug("ImageView::Destroy")

	v.view.Destroy()
	return v.image.Release()
}
