// Package codec holds the in-process format converters the dispatcher can
// route to instead of the external engine. Every codec produces the same
// result shape as an engine-backed conversion.
package codec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattwade/papermill/internal/convert"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextCodec normalizes plain-text documents: strips a UTF-8 BOM and rewrites
// CRLF line endings to LF.
type TextCodec struct{}

func (TextCodec) Name() string { return "text" }

// Convert reads inputPath, normalizes it, and writes outputPath.
func (c TextCodec) Convert(ctx context.Context, inputPath, outputPath string) convert.Result {
	started := time.Now()
	method := "codec/" + c.Name()

	if err := ctx.Err(); err != nil {
		return convert.Failed(convert.FailureInternal, err.Error(), method, time.Since(started))
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return convert.Failed(convert.FailureInputMissing,
			fmt.Sprintf("read %s: %v", inputPath, err), method, time.Since(started))
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return convert.Failed(convert.FailureOutputRelocation,
			fmt.Sprintf("create output directory: %v", err), method, time.Since(started))
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return convert.Failed(convert.FailureOutputRelocation,
			fmt.Sprintf("write %s: %v", outputPath, err), method, time.Since(started))
	}

	return convert.Succeeded(outputPath, method, time.Since(started))
}
