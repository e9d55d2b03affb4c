package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinderfn/cinder/internal/runner"
)

func runInvoke(t *testing.T, registry *runner.Registry, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(registry)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"invoke"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInvoke_ValueOutcome(t *testing.T) {
	registry := runner.NewRegistry()
	registry.Register("app.sum", func(_ context.Context, inv *runner.Invocation) (any, error) {
		return inv.Args[0].(int64) + inv.Args[1].(int64), nil
	})

	out, err := runInvoke(t, registry, "app.sum", "--args", "[1, 2]")
	require.NoError(t, err)
	assert.Contains(t, out, "outcome:    value")
}

func TestInvoke_JSONFormat(t *testing.T) {
	registry := runner.NewRegistry()
	registry.Register("app.echo", func(_ context.Context, inv *runner.Invocation) (any, error) {
		return inv.Args[0], nil
	})

	out, err := runInvoke(t, registry, "app.echo", "--args", `["hello"]`, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "value"`)
}

func TestInvoke_UnknownFunctionFails(t *testing.T) {
	_, err := runInvoke(t, runner.NewRegistry(), "app.missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestInvoke_BadArgsJSON(t *testing.T) {
	_, err := runInvoke(t, runner.NewRegistry(), "app.sum", "--args", "{not json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
