package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cinderfn/cinder/internal/alloc"
	"github.com/cinderfn/cinder/internal/blob"
	"github.com/cinderfn/cinder/internal/codec"
	"github.com/cinderfn/cinder/internal/dispatch"
	"github.com/cinderfn/cinder/internal/plan"
	"github.com/cinderfn/cinder/internal/runner"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args    string
	Timeout time.Duration
}

// NewInvokeCommand creates the invoke command: run one allocation
// in-process and print its outcome.
func NewInvokeCommand(rootOpts *RootOptions, registry *runner.Registry) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <function>",
		Short: "Run one allocation locally and print the outcome",
		Long: `Run one allocation locally and print the outcome.

Positional arguments are given as a JSON array. The invocation runs
against the functions registered in this binary, with blob storage in a
temporary directory.

Example:
  cinder invoke app.sum --args '[1, 2]'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeFunction(cmd, opts, registry, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "[]", "positional arguments as a JSON array")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "maximum time to wait for a result")

	return cmd
}

func invokeFunction(cmd *cobra.Command, opts *InvokeOptions, registry *runner.Registry, function string) error {
	var rawArgs []any
	if err := json.Unmarshal([]byte(opts.Args), &rawArgs); err != nil {
		return WrapExitError(ExitCommandError, "invalid --args JSON", err)
	}

	tmp, err := os.MkdirTemp("", "cinder-invoke-*")
	if err != nil {
		return WrapExitError(ExitCommandError, "create temp dir", err)
	}
	defer os.RemoveAll(tmp)

	placer, err := runner.NewLocalPlacer(tmp)
	if err != nil {
		return WrapExitError(ExitCommandError, "blob placement", err)
	}
	store := blob.NewRouter(blob.NewLocalStore(), nil, nil)

	a, err := buildAllocation(cmd.Context(), function, rawArgs, store, placer)
	if err != nil {
		return WrapExitError(ExitCommandError, "build allocation", err)
	}

	r, err := runner.New(runner.Options{
		Store:    store,
		Registry: registry,
		Placer:   placer,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "build runner", err)
	}
	d := dispatch.NewDispatcher(r, nil, nil, nil)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	a, err = d.Submit(ctx, a)
	if err != nil {
		return WrapExitError(ExitCommandError, "submit allocation", err)
	}
	st, err := d.State(a.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "allocation state", err)
	}

	last := ""
	var snap alloc.Snapshot
	for {
		snap, err = st.WaitForUpdate(ctx, last)
		if err != nil {
			return WrapExitError(ExitCommandError, "wait for result", err)
		}
		if snap.Terminal() {
			break
		}
		last = snap.Hash
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := formatter.WriteResult(snap); err != nil {
		return WrapExitError(ExitCommandError, "write output", err)
	}

	switch snap.Result.Kind {
	case alloc.ResultValue, alloc.ResultPlan:
		return nil
	default:
		return &ExitError{Code: ExitFailure,
			Message: fmt.Sprintf("allocation finished with %s", snap.Result.Kind)}
	}
}

// buildAllocation serializes CLI arguments into the same wire shape a
// remote caller would submit, uploading the payloads through the blob
// store.
func buildAllocation(ctx context.Context, function string, rawArgs []any,
	store blob.Store, placer runner.Placer) (alloc.Allocation, error) {
	nodes := make([]plan.Node, len(rawArgs))
	for i, arg := range rawArgs {
		nodes[i] = plan.NewValue(normalizeJSONNumber(arg), i)
	}
	durable, _, err := plan.MakeDurable(plan.Call(function, nodes...), "cli", 0)
	if err != nil {
		return alloc.Allocation{}, err
	}
	wired, _, err := codec.SerializeTree(durable, codec.JSONSerializer{})
	if err != nil {
		return alloc.Allocation{}, err
	}
	updates, err := codec.ExecutionPlanUpdates(wired)
	if err != nil {
		return alloc.Allocation{}, err
	}
	if len(updates) != 1 {
		return alloc.Allocation{}, fmt.Errorf("expected one update, got %d", len(updates))
	}

	bundle := alloc.InputBundle{CallMetadata: updates[0].CallMetadata}
	var payload []byte
	seen := map[string]bool{}
	for _, arg := range wired.(*plan.FunctionCall).Args {
		v, ok := arg.(*plan.Value)
		if !ok {
			continue
		}
		sv := v.Data.(codec.SerializedValue)
		if seen[sv.Meta.ID] {
			continue
		}
		seen[sv.Meta.ID] = true
		bundle.Values = append(bundle.Values, alloc.InputValue{
			Meta:   sv.Meta,
			Index:  v.Index,
			Blob:   0,
			Offset: int64(len(payload)),
			Size:   int64(len(sv.Data)),
		})
		payload = append(payload, sv.Data...)
	}

	if len(payload) > 0 {
		placed, err := placer.Place("cli", "inputs", int64(len(payload)))
		if err != nil {
			return alloc.Allocation{}, err
		}
		uploaded, err := store.Put(ctx, placed, [][]byte{payload})
		if err != nil {
			return alloc.Allocation{}, err
		}
		bundle.Blobs = []blob.Blob{uploaded}
	}

	return alloc.Allocation{
		Function: alloc.FunctionRef{Name: function, Serializer: codec.SerializerJSON},
		Inputs:   bundle,
	}, nil
}

// normalizeJSONNumber maps encoding/json's float64 numbers onto int64
// where the value is integral, matching the serializer's number model.
func normalizeJSONNumber(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}
