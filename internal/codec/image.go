package codec

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattwade/papermill/internal/convert"
)

// jpegQuality matches the encoder default used for re-encoded uploads.
const jpegQuality = 90

// ImageCodec re-encodes raster images between PNG and JPEG.
type ImageCodec struct{}

func (ImageCodec) Name() string { return "image" }

// Convert decodes inputPath and encodes it in the format implied by
// outputPath's extension.
func (c ImageCodec) Convert(ctx context.Context, inputPath, outputPath string) convert.Result {
	started := time.Now()
	method := "codec/" + c.Name()

	fail := func(kind convert.FailureKind, msg string) convert.Result {
		return convert.Failed(kind, msg, method, time.Since(started))
	}

	if err := ctx.Err(); err != nil {
		return fail(convert.FailureInternal, err.Error())
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fail(convert.FailureInputMissing, fmt.Sprintf("read %s: %v", inputPath, err))
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return fail(convert.FailureEngineConversion, fmt.Sprintf("decode %s: %v", inputPath, err))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fail(convert.FailureOutputRelocation, fmt.Sprintf("create output directory: %v", err))
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fail(convert.FailureOutputRelocation, fmt.Sprintf("create %s: %v", outputPath, err))
	}

	switch ext := strings.ToLower(filepath.Ext(outputPath)); ext {
	case ".png":
		err = png.Encode(out, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: jpegQuality})
	default:
		out.Close()
		_ = os.Remove(outputPath)
		return fail(convert.FailureUnsupported, fmt.Sprintf("unsupported image output format %q", ext))
	}
	if err != nil {
		out.Close()
		_ = os.Remove(outputPath)
		return fail(convert.FailureEngineConversion, fmt.Sprintf("encode %s: %v", outputPath, err))
	}
	if err := out.Close(); err != nil {
		return fail(convert.FailureOutputRelocation, fmt.Sprintf("flush %s: %v", outputPath, err))
	}

	return convert.Succeeded(outputPath, method, time.Since(started))
}
