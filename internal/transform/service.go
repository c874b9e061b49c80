package transform

import (
	"context"
	"io"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/storage"
)

// Service consults the metadata service when options require it, then
// invokes the transformer, wrapping any failure into apperr's
// transform domain. It never retries a failed transform.
type Service struct {
	transformer         Transformer
	metadata            MetadataService
	metadataDerivatives map[string]bool
}

func NewService(transformer Transformer, metadata MetadataService, metadataDerivatives map[string]bool) *Service {
	if transformer == nil {
		transformer = PassthroughTransformer{}
	}
	if metadata == nil {
		metadata = NoopMetadataService{}
	}
	return &Service{transformer: transformer, metadata: metadata, metadataDerivatives: metadataDerivatives}
}

func (s *Service) Transform(ctx context.Context, input storage.Result, options paramresolve.TransformOptions) (Output, error) {
	if RequiresMetadata(options, s.metadataDerivatives) {
		resolved, err := s.metadata.Resolve(ctx, input, options)
		if err != nil {
			return Output{}, apperr.TransformFailed(err)
		}
		options = applyResolvedMetadata(options, resolved)
	}

	out, err := s.transformer.Transform(ctx, input, options)
	if err != nil {
		return Output{}, apperr.TransformFailed(err)
	}
	return out, nil
}

func applyResolvedMetadata(options paramresolve.TransformOptions, resolved ResolvedMetadata) paramresolve.TransformOptions {
	if resolved.CropWidth > 0 && resolved.CropHeight > 0 {
		if options.Extra == nil {
			options.Extra = map[string]any{}
		}
		options.Extra["resolvedCropWidth"] = resolved.CropWidth
		options.Extra["resolvedCropHeight"] = resolved.CropHeight
		options.Extra["resolvedCropX"] = resolved.CropX
		options.Extra["resolvedCropY"] = resolved.CropY
	}
	if resolved.FocalX != 0 || resolved.FocalY != 0 {
		if options.Extra == nil {
			options.Extra = map[string]any{}
		}
		options.Extra["resolvedFocalX"] = resolved.FocalX
		options.Extra["resolvedFocalY"] = resolved.FocalY
	}
	return options
}

func readAll(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}
