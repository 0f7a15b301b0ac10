package main

// configSchemaField describes one entry of the front-end configuration
// page, opaquely passed through the "configlist" RPC target. The field
// set mirrors original_source/src/main.cpp's CONFIG_SCHEMA literal.
type configSchemaField struct {
	Key                 string   `json:"key"`
	Type                string   `json:"type"`
	Label               string   `json:"label"`
	Description         string   `json:"description"`
	Category            string   `json:"category"`
	Min                 *int     `json:"min,omitempty"`
	Max                 *int     `json:"max,omitempty"`
	Options             string   `json:"options,omitempty"`
	Affects             []string `json:"affects,omitempty"`
	DependsOnField      string   `json:"dependsOnField,omitempty"`
	DependsOnCondition  *bool    `json:"dependsOnCondition,omitempty"`
	RequireConfirmation bool     `json:"require_confirmation,omitempty"`
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// configListSchema is the static front-end form definition.
var configListSchema = []configSchemaField{
	{
		Key: "low_battery_threshold", Type: "number",
		Label: "Low battery threshold", Description: "Switch to power-save mode below this battery percentage",
		Min: intPtr(1), Max: intPtr(100), Category: "Power management",
	},
	{
		Key: "poll_interval", Type: "number",
		Label: "Minimum poll interval", Description: "Minimum interval, in seconds, between foreground-app checks",
		Min: intPtr(1), Max: intPtr(180), Category: "Basic settings",
	},
	{
		Key: "using_inotify", Type: "checkbox",
		Label: "Use inotify", Description: "Watch cgroup changes with inotify (takes effect after restart)",
		Category: "Basic settings",
	},
	{
		Key: "power_monitoring", Type: "checkbox",
		Label: "Energy monitoring", Description: "Record per-app energy consumption",
		Category: "Power management",
	},
	{
		Key: "clear_monitoring", Type: "button",
		Label: "Clear energy records", Description: "Discard all accumulated energy records",
		Category: "Power management", RequireConfirmation: true,
	},
	{
		Key: "scene", Type: "checkbox",
		Label: "Scene mode", Description: "Use Scene's scheduling configuration interface",
		Category: "Mode settings", Affects: []string{"mode_file", "scene_strict"},
	},
	{
		Key: "scene_strict", Type: "checkbox",
		Label: "Strict scene mode", Description: "Strictly mimic Scene's behavior",
		Category: "Mode settings", DependsOnField: "scene", DependsOnCondition: boolPtr(true),
		Affects: []string{"screen_off"},
	},
	{
		Key: "mode_file", Type: "text",
		Label: "Mode file path", Description: "Manually specify the mode file path",
		Category: "Mode settings", DependsOnField: "scene", DependsOnCondition: boolPtr(false),
	},
	{
		Key: "screen_off", Type: "select",
		Label: "Screen-off mode", Description: "Mode to switch to automatically when the screen turns off",
		Category: "Mode settings", Options: "availableModes",
		DependsOnField: "scene_strict", DependsOnCondition: boolPtr(false),
	},
	{
		Key: "dynamic_fps", Type: "checkbox",
		Label: "Dynamic refresh rate", Description: "Raise the refresh rate on input, drop it back after idling",
		Category: "Display",
	},
}
