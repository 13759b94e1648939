// Package models defines the node, port and result types shared by every node.
package models

import (
	"context"
	"time"
)

// Node is one configured node instance.
type Node interface {
	ID() string
	Type() string
	Execute(ctx context.Context, execCtx ExecutionContext, inputs map[string]NodeResult) (map[string]NodeResult, error)
	InputPorts() []InputPort
	OutputPorts() []OutputPort
	Validate(config map[string]any) error
}

// Item is one record flowing between nodes.
type Item map[string]any

// NodeResult represents the result of a node execution on one port.
type NodeResult struct {
	NodeID    string         `json:"node_id"`
	Data      map[string]any `json:"data,omitempty"`
	Items     []Item         `json:"items"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)
