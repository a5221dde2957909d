package controller

import "context"

// Topology is the decoded body of a controller's GET response.
type Topology struct {
	Status   int             `json:"status"`
	Circuits []CircuitReport `json:"data"`
}

// CircuitReport is one circuit as the controller sees it.
type CircuitReport struct {
	ID      string         `json:"_id"`
	Status  bool           `json:"status"`
	Sensors []SensorReport `json:"sensors"`
}

// SensorReport is a sensor snapshot nested in a circuit report.
type SensorReport struct {
	Serial string             `json:"serial"`
	Values map[string]float64 `json:"values"`
}

// Command is the POST body that switches a circuit.
type Command struct {
	ID     string `json:"_id"`
	Status bool   `json:"status"`
}

// Commander switches a circuit on a controller. Implementations report
// success only when the controller accepted the command.
type Commander interface {
	SendCommand(ctx context.Context, address, circuitID string, active bool) error
}
