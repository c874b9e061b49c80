package transform

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/storage"
)

type fakeTransformer struct {
	called  bool
	options paramresolve.TransformOptions
	err     error
}

func (f *fakeTransformer) Transform(ctx context.Context, input storage.Result, options paramresolve.TransformOptions) (Output, error) {
	f.called = true
	f.options = options
	if f.err != nil {
		return Output{}, f.err
	}
	return Output{Body: []byte("transformed"), ContentType: input.ContentType}, nil
}

type fakeMetadata struct {
	called   bool
	resolved ResolvedMetadata
	err      error
}

func (f *fakeMetadata) Resolve(ctx context.Context, input storage.Result, options paramresolve.TransformOptions) (ResolvedMetadata, error) {
	f.called = true
	return f.resolved, f.err
}

func TestRequiresMetadataForSmartCrop(t *testing.T) {
	assert.True(t, RequiresMetadata(paramresolve.TransformOptions{Smart: true}, nil))
}

func TestRequiresMetadataForAspectOrFocal(t *testing.T) {
	assert.True(t, RequiresMetadata(paramresolve.TransformOptions{Aspect: "16:9"}, nil))
	assert.True(t, RequiresMetadata(paramresolve.TransformOptions{Focal: "0.5,0.5"}, nil))
}

func TestRequiresMetadataForFlaggedDerivative(t *testing.T) {
	flagged := map[string]bool{"hero": true}
	assert.True(t, RequiresMetadata(paramresolve.TransformOptions{Derivative: "hero"}, flagged))
	assert.False(t, RequiresMetadata(paramresolve.TransformOptions{Derivative: "thumbnail"}, flagged))
}

func TestRequiresMetadataFalseByDefault(t *testing.T) {
	assert.False(t, RequiresMetadata(paramresolve.TransformOptions{}, nil))
}

func TestServiceSkipsMetadataWhenNotNeeded(t *testing.T) {
	transformer := &fakeTransformer{}
	metadata := &fakeMetadata{}
	svc := NewService(transformer, metadata, nil)

	_, err := svc.Transform(context.Background(), storage.Result{}, paramresolve.TransformOptions{})
	require.NoError(t, err)
	assert.False(t, metadata.called)
	assert.True(t, transformer.called)
}

func TestServiceConsultsMetadataWhenSmart(t *testing.T) {
	transformer := &fakeTransformer{}
	metadata := &fakeMetadata{resolved: ResolvedMetadata{CropWidth: 100, CropHeight: 100}}
	svc := NewService(transformer, metadata, nil)

	_, err := svc.Transform(context.Background(), storage.Result{}, paramresolve.TransformOptions{Smart: true})
	require.NoError(t, err)
	assert.True(t, metadata.called)
	assert.Equal(t, 100, transformer.options.Extra["resolvedCropWidth"])
}

func TestServiceWrapsTransformerErrors(t *testing.T) {
	transformer := &fakeTransformer{err: errors.New("boom")}
	svc := NewService(transformer, &fakeMetadata{}, nil)

	_, err := svc.Transform(context.Background(), storage.Result{}, paramresolve.TransformOptions{})
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeTransformFailed, ae.Code)
}

func TestServiceWrapsMetadataErrors(t *testing.T) {
	metadata := &fakeMetadata{err: errors.New("no metadata")}
	svc := NewService(&fakeTransformer{}, metadata, nil)

	_, err := svc.Transform(context.Background(), storage.Result{}, paramresolve.TransformOptions{Smart: true})
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeTransformFailed, ae.Code)
}

func TestPassthroughTransformerCopiesBody(t *testing.T) {
	input := storage.Result{Body: io.NopCloser(strings.NewReader("hello")), ContentType: "image/jpeg"}
	out, err := PassthroughTransformer{}.Transform(context.Background(), input, paramresolve.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out.Body))
	assert.Equal(t, "image/jpeg", out.ContentType)
}
