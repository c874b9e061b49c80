package transform

import (
	"context"

	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/storage"
)

// ResolvedMetadata carries the concrete values a metadata lookup
// contributes back to the transform request (an aspect-crop window,
// resolved focal coordinates, smart-crop region, ...).
type ResolvedMetadata struct {
	CropWidth  int
	CropHeight int
	CropX      int
	CropY      int
	FocalX     float64
	FocalY     float64
}

// MetadataService is the opaque collaborator consulted whenever
// options require content-aware information the transformer itself
// cannot derive from the request alone.
type MetadataService interface {
	Resolve(ctx context.Context, input storage.Result, options paramresolve.TransformOptions) (ResolvedMetadata, error)
}

// NoopMetadataService resolves nothing; it is the default wired
// implementation until a real metadata/vision backend is plugged in.
type NoopMetadataService struct{}

func (NoopMetadataService) Resolve(ctx context.Context, input storage.Result, options paramresolve.TransformOptions) (ResolvedMetadata, error) {
	return ResolvedMetadata{}, nil
}

// RequiresMetadata reports whether options need a metadata lookup
// before transformation: smart cropping, an aspect
// ratio or focal point, or a derivative the config flags as metadata-aware.
func RequiresMetadata(options paramresolve.TransformOptions, metadataDerivatives map[string]bool) bool {
	if options.Smart {
		return true
	}
	if options.Aspect != "" || options.Focal != "" {
		return true
	}
	if options.Derivative != "" && metadataDerivatives[options.Derivative] {
		return true
	}
	return false
}
