package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cinderfn/cinder/internal/alloc"
	"github.com/cinderfn/cinder/internal/blob"
	"github.com/cinderfn/cinder/internal/codec"
	"github.com/cinderfn/cinder/internal/plan"
	"github.com/cinderfn/cinder/internal/statestore"
)

type phase string

const (
	phaseCreated        phase = "created"
	phaseDownloading    phase = "downloading-inputs"
	phaseReconstructing phase = "reconstructing-arguments"
	phaseRunning        phase = "running-user-code"
	phasePublishing     phase = "publishing-result"
	phaseFinished       phase = "finished"
)

// Runner drives allocations through their phase sequence. One Runner
// serves many concurrent allocations; it keeps no per-allocation state
// of its own.
type Runner struct {
	store       blob.Store
	registry    *Registry
	serializers *codec.Registry
	placer      Placer
	journal     *statestore.Store
	log         *slog.Logger
	userLog     *slog.Logger
}

// Options configures a Runner. Store, Registry and Placer are
// required; Journal is optional and, when present, receives terminal
// outcomes. UserLog is the channel user-visible detail goes to; it
// defaults to a logger that discards nothing but is kept separate from
// the internal logger.
type Options struct {
	Store       blob.Store
	Registry    *Registry
	Serializers *codec.Registry
	Placer      Placer
	Journal     *statestore.Store
	Log         *slog.Logger
	UserLog     *slog.Logger
}

func New(opts Options) (*Runner, error) {
	if opts.Store == nil || opts.Registry == nil || opts.Placer == nil {
		return nil, fmt.Errorf("runner requires a blob store, a registry and a placer")
	}
	if opts.Serializers == nil {
		opts.Serializers = codec.NewRegistry()
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.UserLog == nil {
		opts.UserLog = slog.Default()
	}
	return &Runner{
		store:       opts.Store,
		registry:    opts.Registry,
		serializers: opts.Serializers,
		placer:      opts.Placer,
		journal:     opts.Journal,
		log:         opts.Log,
		userLog:     opts.UserLog,
	}, nil
}

// Run executes one allocation to a terminal result. It never returns
// an error: every failure mode becomes an outcome code on the state.
// Run must be the only goroutine mutating st's result.
func (r *Runner) Run(ctx context.Context, a alloc.Allocation, st *alloc.State) {
	res := r.execute(ctx, a, st)
	st.SetResult(res)

	if r.journal != nil {
		if err := r.journal.RecordOutcome(ctx, a.ID, res); err != nil {
			r.log.Error("failed to journal outcome",
				"allocation_id", a.ID, "error", err)
		}
	}
	r.log.Info("allocation finished",
		"allocation_id", a.ID,
		"request_id", a.RequestID,
		"kind", res.Kind,
		"phase", phaseFinished)
}

// execute runs the phase sequence and converts every error into a
// result. The top-level recover is the process-safety boundary: a
// defect in the runner or codec surfaces as a generic internal error
// and nothing else.
func (r *Runner) execute(ctx context.Context, a alloc.Allocation, st *alloc.State) (res alloc.Result) {
	var metrics alloc.Metrics
	current := phaseCreated

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("allocation worker panic",
				"allocation_id", a.ID, "phase", string(current))
			res = internalFailure(metrics)
		}
	}()

	r.log.Info("allocation started",
		"allocation_id", a.ID,
		"request_id", a.RequestID,
		"function", a.Function.Name)

	handler, err := r.registry.Get(a.Function.Name)
	if err != nil {
		return alloc.Result{
			Kind:      alloc.ResultRequestError,
			ErrorCode: "unknown_function",
			Message:   fmt.Sprintf("function %q is not registered", a.Function.Name),
			Metrics:   metrics,
		}
	}

	serializer, err := r.serializers.Get(serializerName(a.Function))
	if err != nil {
		r.log.Error("unknown serializer",
			"allocation_id", a.ID, "serializer", a.Function.Serializer)
		return internalFailure(metrics)
	}

	current = phaseDownloading
	start := time.Now()
	table, inputBytes, err := r.downloadInputs(ctx, a)
	metrics.DownloadMillis = time.Since(start).Milliseconds()
	metrics.InputBytes = inputBytes
	if err != nil {
		r.logPhaseFailure(a.ID, current, err)
		return internalFailure(metrics)
	}

	current = phaseReconstructing
	meta, err := codec.DecodeCallMetadata(a.Inputs.CallMetadata)
	if err != nil {
		r.logPhaseFailure(a.ID, current, err)
		return internalFailure(metrics)
	}
	args, kwargs, err := codec.ReconstructArguments(meta, table, r.serializers)
	if err != nil {
		r.logPhaseFailure(a.ID, current, err)
		return internalFailure(metrics)
	}

	current = phaseRunning
	inv := &Invocation{
		AllocationID: a.ID,
		RequestID:    a.RequestID,
		Function:     a.Function.Name,
		Args:         args,
		Kwargs:       kwargs,
		state:        st,
		log:          r.userLog.With("allocation_id", a.ID),
	}
	start = time.Now()
	out, userErr := invoke(ctx, handler, inv)
	metrics.ExecuteMillis = time.Since(start).Milliseconds()

	current = phasePublishing
	start = time.Now()
	res = r.publish(ctx, a, st, serializer, out, userErr, metrics)
	res.Metrics.PublishMillis = time.Since(start).Milliseconds()
	return res
}

// invoke runs the handler with its own recover so a panic in user code
// is a user exception, not a runner fault.
func invoke(ctx context.Context, h Handler, inv *Invocation) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("function panicked: %v", rec)
		}
	}()
	return h(ctx, inv)
}

// downloadInputs fetches every serialized argument range and builds the
// value table keyed by value id.
func (r *Runner) downloadInputs(ctx context.Context, a alloc.Allocation) (codec.ValueTable, int64, error) {
	table := make(codec.ValueTable, len(a.Inputs.Values))
	var total int64
	for _, in := range a.Inputs.Values {
		if in.Blob < 0 || in.Blob >= len(a.Inputs.Blobs) {
			return nil, total, fmt.Errorf("input %s references blob %d of %d",
				in.Meta.ID, in.Blob, len(a.Inputs.Blobs))
		}
		data, err := r.store.Get(ctx, a.Inputs.Blobs[in.Blob], in.Offset, in.Size)
		if err != nil {
			return nil, total, fmt.Errorf("download input %s: %w", in.Meta.ID, err)
		}
		total += int64(len(data))
		table[in.Meta.ID] = codec.Downloaded{
			Value: codec.SerializedValue{Meta: in.Meta, Data: data},
			Index: in.Index,
		}
	}
	return table, total, nil
}

// publish classifies the run's outcome and uploads whatever payload the
// result references before it becomes visible.
func (r *Runner) publish(ctx context.Context, a alloc.Allocation, st *alloc.State,
	ser codec.Serializer, out any, userErr error, metrics alloc.Metrics) alloc.Result {

	if userErr != nil {
		var reqErr *RequestError
		if errors.As(userErr, &reqErr) {
			return r.publishRequestError(ctx, a, ser, reqErr, metrics)
		}
		// Full detail goes only to the user-visible channel; the
		// internal log records that a user exception happened and
		// nothing more.
		r.userLog.Error("function raised",
			"allocation_id", a.ID,
			"function", a.Function.Name,
			"error", userErr)
		r.log.Info("allocation raised user exception", "allocation_id", a.ID)
		return alloc.Result{
			Kind:      alloc.ResultUserException,
			ErrorCode: "user_exception",
			Message:   "function raised an exception",
			Metrics:   metrics,
		}
	}

	if node, ok := out.(plan.Node); ok {
		res, err := r.publishPlan(ctx, a, st, ser, node, metrics)
		if err != nil {
			r.logPhaseFailure(a.ID, phasePublishing, err)
			return internalFailure(metrics)
		}
		return res
	}

	res, err := r.publishValue(ctx, a, ser, out, metrics)
	if err != nil {
		r.logPhaseFailure(a.ID, phasePublishing, err)
		return internalFailure(metrics)
	}
	return res
}

// publishValue serializes the returned value, uploads it and builds a
// value result addressed by the payload's content.
func (r *Runner) publishValue(ctx context.Context, a alloc.Allocation,
	ser codec.Serializer, out any, metrics alloc.Metrics) (alloc.Result, error) {

	data, typeTag, err := ser.Serialize(out)
	if err != nil {
		return alloc.Result{}, fmt.Errorf("serialize output: %w", err)
	}

	valueID := plan.ValueID(data)
	placed, err := r.placer.Place(a.ID, "output", int64(len(data)))
	if err != nil {
		return alloc.Result{}, fmt.Errorf("place output blob: %w", err)
	}
	uploaded, err := r.store.Put(ctx, placed, [][]byte{data})
	if err != nil {
		return alloc.Result{}, fmt.Errorf("upload output: %w", err)
	}

	metrics.OutputBytes = int64(len(data))
	return alloc.Result{
		Kind:    alloc.ResultValue,
		ValueID: valueID,
		ValueMeta: &codec.ValueMetadata{
			ID:         valueID,
			TypeTag:    typeTag,
			Serializer: ser.Name(),
		},
		Output:  &uploaded,
		Metrics: metrics,
	}, nil
}

// publishPlan makes the returned plan durable, serializes its leaf
// values into one payload blob and appends the flattened wire updates
// to the state before the terminal result lands. Payload chunks follow
// lexicographic value-id order.
func (r *Runner) publishPlan(ctx context.Context, a alloc.Allocation, st *alloc.State,
	ser codec.Serializer, node plan.Node, metrics alloc.Metrics) (alloc.Result, error) {

	durable, _, err := plan.MakeDurable(node, a.ID, 0)
	if err != nil {
		return alloc.Result{}, fmt.Errorf("derive durable ids: %w", err)
	}
	wired, values, err := codec.SerializeTree(durable, ser)
	if err != nil {
		return alloc.Result{}, fmt.Errorf("serialize plan: %w", err)
	}
	updates, err := codec.ExecutionPlanUpdates(wired)
	if err != nil {
		return alloc.Result{}, fmt.Errorf("flatten plan: %w", err)
	}

	ids := make([]string, 0, len(values))
	var totalSize int64
	for id := range values {
		ids = append(ids, id)
		totalSize += int64(len(values[id].Data))
	}
	sort.Strings(ids)

	var output *blob.Blob
	var outputBytes int64
	if len(ids) > 0 {
		placed, err := r.placer.Place(a.ID, "plan-values", totalSize)
		if err != nil {
			return alloc.Result{}, fmt.Errorf("place plan values: %w", err)
		}
		// Chunks of a local blob share one file; each chunk lands at
		// the cumulative offset of the chunks before it.
		uri := placed.Chunks[0].URI
		b := blob.Blob{Name: placed.Name}
		dataChunks := make([][]byte, 0, len(ids))
		for _, id := range ids {
			data := values[id].Data
			b.Chunks = append(b.Chunks, blob.Chunk{URI: uri, Size: int64(len(data))})
			dataChunks = append(dataChunks, data)
			outputBytes += int64(len(data))
		}
		uploaded, err := r.store.Put(ctx, b, dataChunks)
		if err != nil {
			return alloc.Result{}, fmt.Errorf("upload plan values: %w", err)
		}
		output = &uploaded
	}

	for _, u := range updates {
		if err := st.AddFunctionCall(u); err != nil {
			return alloc.Result{}, fmt.Errorf("append update %s: %w", u.ID, err)
		}
	}

	metrics.OutputBytes = outputBytes
	metrics.UpdateCount = len(updates)

	res := alloc.Result{
		Kind:    alloc.ResultPlan,
		Output:  output,
		Metrics: metrics,
	}
	if fc, ok := wired.(*plan.FunctionCall); ok {
		res.ValueID = fc.DurableID
	} else if ro, ok := wired.(*plan.ReduceOp); ok {
		res.ValueID = ro.DurableID
	}
	return res, nil
}

// publishRequestError uploads the declared error payload before the
// result references it.
func (r *Runner) publishRequestError(ctx context.Context, a alloc.Allocation,
	ser codec.Serializer, reqErr *RequestError, metrics alloc.Metrics) alloc.Result {

	res := alloc.Result{
		Kind:      alloc.ResultRequestError,
		ErrorCode: reqErr.Code,
		Message:   reqErr.Message,
		Metrics:   metrics,
	}
	if reqErr.Payload == nil {
		return res
	}

	data, _, err := ser.Serialize(reqErr.Payload)
	if err != nil {
		r.logPhaseFailure(a.ID, phasePublishing, err)
		return internalFailure(metrics)
	}
	placed, err := r.placer.Place(a.ID, "error-payload", int64(len(data)))
	if err != nil {
		r.logPhaseFailure(a.ID, phasePublishing, err)
		return internalFailure(metrics)
	}
	uploaded, err := r.store.Put(ctx, placed, [][]byte{data})
	if err != nil {
		r.logPhaseFailure(a.ID, phasePublishing, err)
		return internalFailure(metrics)
	}

	res.Output = &uploaded
	res.Metrics.OutputBytes = int64(len(data))
	return res
}

// logPhaseFailure records an internal failure with module context but
// without echoing argument data.
func (r *Runner) logPhaseFailure(allocationID string, p phase, err error) {
	r.log.Error("allocation phase failed",
		"allocation_id", allocationID,
		"phase", string(p),
		"error", err)
}

func internalFailure(metrics alloc.Metrics) alloc.Result {
	return alloc.Result{
		Kind:      alloc.ResultInternalError,
		ErrorCode: "internal",
		Message:   "internal failure",
		Metrics:   metrics,
	}
}

func serializerName(ref alloc.FunctionRef) string {
	if ref.Serializer == "" {
		return codec.SerializerJSON
	}
	return ref.Serializer
}
