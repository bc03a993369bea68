// Package dispatch maps format pairs to conversion handlers and funnels every
// outcome, including handler panics, into a uniform result.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattwade/papermill/internal/admission"
	"github.com/mattwade/papermill/internal/codec"
	"github.com/mattwade/papermill/internal/convert"
	"github.com/mattwade/papermill/internal/log"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattwade/papermill/internal/dispatch Recorder

// Recorder receives every conversion outcome for the history log. A recorder
// failure is observational and never fails the conversion itself.
type Recorder interface {
	Record(ctx context.Context, operationID, inputFormat, outputFormat string, res convert.Result) error
}

// EngineRunner is the engine-backed conversion path.
type EngineRunner interface {
	Convert(ctx context.Context, req convert.Request) convert.Result
}

// HandlerFunc performs one conversion for an already-validated format pair.
type HandlerFunc func(ctx context.Context, req convert.Request) convert.Result

type handlerEntry struct {
	fn HandlerFunc

	// engineBacked handlers consume an admission permit for the duration of
	// the call.
	engineBacked bool

	method string
}

// Dispatcher routes (inputFormat, outputFormat) pairs to handlers. The
// handler table is fixed at construction; lookups are pure and carry no side
// effects, so upstream validation can pre-flight a conversion's legality
// without performing it.
type Dispatcher struct {
	handlers map[string]handlerEntry
	pool     *admission.Pool
	recorder Recorder
	logger   *slog.Logger
}

// enginePairs lists the engine-backed conversions and their target format
// argument. The target may carry an explicit export filter.
var enginePairs = map[string]string{
	"doc-pdf":   "pdf",
	"docx-pdf":  "pdf",
	"odt-pdf":   "pdf",
	"rtf-pdf":   "pdf",
	"txt-pdf":   "pdf",
	"html-pdf":  "pdf",
	"xls-pdf":   "pdf",
	"xlsx-pdf":  "pdf",
	"ods-pdf":   "pdf",
	"ppt-pdf":   "pdf",
	"pptx-pdf":  "pdf",
	"odp-pdf":   "pdf",
	"doc-docx":  "docx",
	"odt-docx":  "docx",
	"docx-odt":  "odt",
	"xlsx-csv":  "csv:Text - txt - csv (StarCalc)",
	"csv-xlsx":  "xlsx",
	"csv-ods":   "ods",
	"docx-html": "html",
	"docx-txt":  "txt",
	"pptx-odp":  "odp",
}

// New creates a dispatcher with the full handler table registered: the
// engine-backed pairs plus the in-process codecs.
func New(runner EngineRunner, pool *admission.Pool, recorder Recorder) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]handlerEntry),
		pool:     pool,
		recorder: recorder,
		logger:   log.WithComponent("dispatch"),
	}

	for pair, target := range enginePairs {
		target := target
		d.handlers[pair] = handlerEntry{
			engineBacked: true,
			method:       "soffice",
			fn: func(ctx context.Context, req convert.Request) convert.Result {
				req.TargetFormat = target
				return runner.Convert(ctx, req)
			},
		}
	}

	d.registerCodec("txt", "txt", codec.TextCodec{})
	d.registerCodec("png", "jpg", codec.ImageCodec{})
	d.registerCodec("png", "jpeg", codec.ImageCodec{})
	d.registerCodec("jpg", "png", codec.ImageCodec{})
	d.registerCodec("jpeg", "png", codec.ImageCodec{})

	return d
}

func (d *Dispatcher) registerCodec(in, out string, c convert.Codec) {
	d.handlers[pairKey(in, out)] = handlerEntry{
		method: "codec/" + c.Name(),
		fn: func(ctx context.Context, req convert.Request) convert.Result {
			return c.Convert(ctx, req.InputPath, req.OutputPath)
		},
	}
}

func pairKey(in, out string) string {
	return strings.ToLower(strings.TrimPrefix(in, ".")) + "-" + strings.ToLower(strings.TrimPrefix(out, "."))
}

// Supported reports whether a handler is registered for the pair. Pure.
func (d *Dispatcher) Supported(inputFormat, outputFormat string) bool {
	_, ok := d.handlers[pairKey(inputFormat, outputFormat)]
	return ok
}

// Pairs returns every supported "<in>-<out>" pair, sorted.
func (d *Dispatcher) Pairs() []string {
	out := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Convert runs one conversion with a fresh operation ID.
func (d *Dispatcher) Convert(ctx context.Context, inputFormat, outputFormat, inputPath, outputPath string) convert.Result {
	return d.ConvertOperation(ctx, uuid.NewString(), inputFormat, outputFormat, inputPath, outputPath)
}

// ConvertOperation runs one conversion under a caller-supplied operation ID.
// The result is always tagged; a handler panic cannot escape, and an
// engine-backed handler's permit is released even when it panics.
func (d *Dispatcher) ConvertOperation(ctx context.Context, operationID, inputFormat, outputFormat, inputPath, outputPath string) convert.Result {
	started := time.Now()
	key := pairKey(inputFormat, outputFormat)
	opLogger := d.logger.With("operation_id", operationID, "pair", key)

	entry, ok := d.handlers[key]
	if !ok {
		res := convert.Failed(convert.FailureUnsupported,
			fmt.Sprintf("no handler for conversion %s", key), "dispatch", time.Since(started))
		d.record(ctx, operationID, inputFormat, outputFormat, res)
		return res
	}

	req := convert.Request{
		InputPath:   inputPath,
		OutputPath:  outputPath,
		OperationID: operationID,
	}

	var res convert.Result
	if entry.engineBacked {
		permit, err := d.pool.Acquire(ctx)
		if err != nil {
			opLogger.Warn("abandoned while waiting for an engine slot", "error", err)
			res = convert.Failed(convert.FailureTimeout,
				fmt.Sprintf("cancelled while waiting for an engine slot: %v", err),
				entry.method, time.Since(started))
			d.record(ctx, operationID, inputFormat, outputFormat, res)
			return res
		}
		func() {
			defer d.pool.Release(permit)
			res = d.invoke(ctx, entry, req, opLogger)
		}()
	} else {
		res = d.invoke(ctx, entry, req, opLogger)
	}

	d.record(ctx, operationID, inputFormat, outputFormat, res)
	return res
}

// invoke calls the handler with panic recovery.
func (d *Dispatcher) invoke(ctx context.Context, entry handlerEntry, req convert.Request, opLogger *slog.Logger) (res convert.Result) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			res = convert.Failed(convert.FailureInternal,
				fmt.Sprintf("handler panic: %v", r), entry.method, time.Since(started))
		}
	}()
	return entry.fn(ctx, req)
}

func (d *Dispatcher) record(ctx context.Context, operationID, inputFormat, outputFormat string, res convert.Result) {
	if d.recorder == nil {
		return
	}
	// The outcome must land in the history log even when the conversion ended
	// because the caller's context was cancelled or past its deadline.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.recorder.Record(recordCtx, operationID, inputFormat, outputFormat, res); err != nil {
		d.logger.Error("failed to record conversion", "operation_id", operationID, "error", err)
	}
}
