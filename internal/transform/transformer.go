// Package transform wraps the opaque pixel transformer and metadata
// service behind a thin service that decides when metadata resolution
// is needed before invoking the transformer.
package transform

import (
	"context"

	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/storage"
)

// Output is the transformed image bytes and the metadata describing
// the transform actually applied.
type Output struct {
	Body        []byte
	ContentType string
	Width       int
	Height      int
}

// Transformer is the opaque pixel-processing engine. Its
// implementation (codec, resize kernel, output encoder) is a
// collaborator outside this service's scope; this package only
// defines the contract and a passthrough stand-in.
type Transformer interface {
	Transform(ctx context.Context, input storage.Result, options paramresolve.TransformOptions) (Output, error)
}

// PassthroughTransformer returns the source bytes untouched, preserving
// the original content type. It is the default wired transformer until
// a real pixel engine is plugged in; every option it receives is
// accepted without effect.
type PassthroughTransformer struct{}

func (PassthroughTransformer) Transform(ctx context.Context, input storage.Result, options paramresolve.TransformOptions) (Output, error) {
	body := make([]byte, 0)
	if input.Body != nil {
		buf, err := readAll(input.Body)
		if err != nil {
			return Output{}, err
		}
		body = buf
	}

	return Output{
		Body:        body,
		ContentType: input.ContentType,
		Width:       input.Width,
		Height:      input.Height,
	}, nil
}
