package codec

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/cinderfn/cinder/internal/plan"
)

// The wire shape of execution-plan updates is a compatibility surface:
// the scheduler on the other side parses these bytes. The golden file
// pins the exact encoding, durable ids included, so an accidental
// change to hashing or field layout fails loudly.
//
// To regenerate after an intentional format change:
//
//	go test ./internal/codec -update
func TestExecutionPlanUpdates_GoldenWireFormat(t *testing.T) {
	tree := plan.Call("app.sum",
		plan.NewValue(int64(1), 0),
		plan.NewValue(int64(2), 1),
	)

	durable, _, err := plan.MakeDurable(tree, "alloc-1", 0)
	require.NoError(t, err)
	wire, _, err := SerializeTree(durable, JSONSerializer{})
	require.NoError(t, err)
	updates, err := ExecutionPlanUpdates(wire)
	require.NoError(t, err)

	data, err := json.Marshal(updates)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "plan_updates", data)
}
