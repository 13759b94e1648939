package models

// Port represents a connection point on a node.
type Port struct {
	ID          string         `json:"id"`      // "{nodeID}:{portName}"
	NodeID      string         `json:"node_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

type InputPort struct {
	Port
}

type OutputPort struct {
	Port
}

// ParsePortID splits "{node_id}:{port_name}".
func ParsePortID(portID string) (string, string, bool) {
	for i := range len(portID) {
		if portID[i] == ':' {
			return portID[:i], portID[i+1:], true
		}
	}

	return "", "", false
}

func MakePortID(nodeID, portName string) string {
	return nodeID + ":" + portName
}

// NewInputPort builds an input port owned by nodeID.
func NewInputPort(nodeID, name, description string) InputPort {
	return InputPort{Port: Port{
		ID:          MakePortID(nodeID, name),
		NodeID:      nodeID,
		Name:        name,
		Description: description,
	}}
}

// NewOutputPort builds an output port owned by nodeID.
func NewOutputPort(nodeID, name, description string, schema map[string]any) OutputPort {
	return OutputPort{Port: Port{
		ID:          MakePortID(nodeID, name),
		NodeID:      nodeID,
		Name:        name,
		Description: description,
		Schema:      schema,
	}}
}
