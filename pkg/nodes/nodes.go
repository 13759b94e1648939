// Package nodes holds the pieces shared by the built-in Databricks nodes:
// standard ports, per-item parameter rendering and output collection.
package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/models"
	"github.com/mik3lol/n8n-nodes-databricks/pkg/template"
)

const (
	OutputPortSuccess = "success"
	OutputPortError   = "error"
	InputPortMain     = "main"
)

// ContinueOnFailKey is the config key that selects between routing failed
// items to the error port (default) and aborting the whole execution.
const ContinueOnFailKey = "continueOnFail"

// InputItems returns the items received on the main port. A node executed
// without input runs once with an empty item.
func InputItems(inputs map[string]models.NodeResult) []models.Item {
	main, ok := inputs[InputPortMain]
	if !ok || len(main.Items) == 0 {
		return []models.Item{{}}
	}

	return main.Items
}

// RenderParams renders the templated strings of params for one item.
func RenderParams(params map[string]any, execCtx *models.ExecutionContext, item models.Item) (Params, error) {
	rendered, err := template.RenderValue(params, template.Data(execCtx, item))
	if err != nil {
		return nil, fmt.Errorf("render parameters: %w", err)
	}

	out, _ := rendered.(map[string]any)

	return Params(out), nil
}

// ItemFunc processes one input item and returns the items it produces.
type ItemFunc func(ctx context.Context, index int, item models.Item) ([]models.Item, error)

// Run applies fn to every input item in order. Failed items become problem
// records on the error port unless continueOnFail is false, in which case the
// first failure aborts the execution.
func Run(ctx context.Context, nodeID string, continueOnFail bool, inputs map[string]models.NodeResult, fn ItemFunc) (map[string]models.NodeResult, error) {
	out := NewOutputs(nodeID)

	for i, item := range InputItems(inputs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		items, err := fn(ctx, i, item)
		if err != nil {
			if !continueOnFail {
				return nil, err
			}

			out.Fail(i, err)

			continue
		}

		out.Add(items...)
	}

	return out.Results(), nil
}

// Outputs collects the items of one execution per output port.
type Outputs struct {
	nodeID  string
	success []models.Item
	failed  []models.Item
}

func NewOutputs(nodeID string) *Outputs {
	return &Outputs{nodeID: nodeID}
}

func (o *Outputs) Add(items ...models.Item) {
	o.success = append(o.success, items...)
}

// Fail records err for the item at index.
func (o *Outputs) Fail(index int, err error) {
	record := ErrorRecord(err)
	record["item_index"] = index

	o.failed = append(o.failed, record)
}

// Results returns the success port, plus the error port when an item failed.
// The success port is omitted when every item failed.
func (o *Outputs) Results() map[string]models.NodeResult {
	now := time.Now().UTC()
	results := make(map[string]models.NodeResult, 2)

	if len(o.success) > 0 || len(o.failed) == 0 {
		items := o.success
		if items == nil {
			items = []models.Item{}
		}

		results[OutputPortSuccess] = models.NodeResult{
			NodeID:    o.nodeID,
			Items:     items,
			Status:    string(models.NodeStatusSuccess),
			Timestamp: now,
		}
	}

	if len(o.failed) > 0 {
		first, _ := o.failed[0]["error"].(string)

		results[OutputPortError] = models.NodeResult{
			NodeID:    o.nodeID,
			Items:     o.failed,
			Status:    string(models.NodeStatusError),
			Timestamp: now,
			Error:     first,
		}
	}

	return results
}

// InputPorts returns the single main input port.
func InputPorts(nodeID string) []models.InputPort {
	return []models.InputPort{
		models.NewInputPort(nodeID, InputPortMain, "Items to process, one request per item"),
	}
}

// OutputPorts returns the success and error ports.
func OutputPorts(nodeID, successDescription string) []models.OutputPort {
	return []models.OutputPort{
		models.NewOutputPort(nodeID, OutputPortSuccess, successDescription, nil),
		models.NewOutputPort(nodeID, OutputPortError, "Problem records for items that failed", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"error":      map[string]any{"type": "string"},
				"success":    map[string]any{"type": "boolean"},
				"item_index": map[string]any{"type": "integer"},
				"problem":    map[string]any{"type": "object"},
			},
		}),
	}
}
