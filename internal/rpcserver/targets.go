package rpcserver

import (
	"encoding/json"
)

// SimpleDataTarget wraps any static or periodically-refreshed JSON value
// under a read-only name, mirroring the source's generic SimpleDataTarget
// (info, configlist, availableModes).
type SimpleDataTarget struct {
	name string
	data func() interface{}
}

// NewSimpleDataTarget constructs a read-only target. provider is called on
// every Read, so callers needing a live view can close over mutable state.
func NewSimpleDataTarget(name string, provider func() interface{}) *SimpleDataTarget {
	return &SimpleDataTarget{name: name, data: provider}
}

func (t *SimpleDataTarget) Name() string { return t.name }

func (t *SimpleDataTarget) Read() (interface{}, error) {
	return t.data(), nil
}

func (t *SimpleDataTarget) Write(json.RawMessage) (interface{}, error) {
	return statusResponse{"error", t.name + " target is read-only"}, nil
}

// ConfigFileTarget adapts a byte-oriented file-backed config record (the
// main or scheduler store) to the Target interface.
type ConfigFileTarget struct {
	name  string
	read  func() ([]byte, error)
	write func([]byte) error
}

// NewConfigFileTarget wraps a config store's Read/Write pair.
func NewConfigFileTarget(name string, read func() ([]byte, error), write func([]byte) error) *ConfigFileTarget {
	return &ConfigFileTarget{name: name, read: read, write: write}
}

func (t *ConfigFileTarget) Name() string { return t.name }

func (t *ConfigFileTarget) Read() (interface{}, error) {
	raw, err := t.read()
	if err != nil {
		return statusResponse{"error", "Cannot open file for reading"}, nil
	}
	return json.RawMessage(raw), nil
}

func (t *ConfigFileTarget) Write(data json.RawMessage) (interface{}, error) {
	if err := t.write(data); err != nil {
		return statusResponse{"error", "Failed to write file"}, nil
	}
	return statusResponse{"success", ""}, nil
}

// CommandTarget is write-only; it dispatches the first element of an
// incoming JSON array to a callback keyed by command name.
type CommandTarget struct {
	callback func(command string) string
}

// NewCommandTarget constructs the "command" target.
func NewCommandTarget(callback func(command string) string) *CommandTarget {
	return &CommandTarget{callback: callback}
}

func (t *CommandTarget) Name() string { return "command" }

func (t *CommandTarget) Read() (interface{}, error) {
	return statusResponse{"error", "command is write-only, no data to read."}, nil
}

type commandResult struct {
	Message string `json:"message"`
}

func (t *CommandTarget) Write(data json.RawMessage) (interface{}, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil || len(args) == 0 {
		return statusResponse{"error", "Unparseable Command."}, nil
	}
	var cmd string
	if err := json.Unmarshal(args[0], &cmd); err != nil {
		return statusResponse{"error", "Unparseable Command."}, nil
	}
	if t.callback == nil {
		return statusResponse{"error", "Backend not properly initialized."}, nil
	}
	return commandResult{Message: t.callback(cmd)}, nil
}

// PowerSnapshotTarget is the read-only "powerdata" target.
type PowerSnapshotTarget struct {
	snapshot func() interface{}
}

// NewPowerSnapshotTarget wraps an energy accountant's ReadSnapshot.
func NewPowerSnapshotTarget(snapshot func() interface{}) *PowerSnapshotTarget {
	return &PowerSnapshotTarget{snapshot: snapshot}
}

func (t *PowerSnapshotTarget) Name() string { return "powerdata" }

func (t *PowerSnapshotTarget) Read() (interface{}, error) {
	return t.snapshot(), nil
}

func (t *PowerSnapshotTarget) Write(json.RawMessage) (interface{}, error) {
	return statusResponse{"error", "Power monitor target is read-only"}, nil
}
