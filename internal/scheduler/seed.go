package scheduler

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// DefaultTasks is the built-in schedule set used when no seed file is
// configured: a monthly rollup on the 1st and a weekly refresh on
// Mondays, both at midnight.
func DefaultTasks() []TaskConfig {
	return []TaskConfig{
		{
			ID:            "monthly_updates",
			Name:          "Monthly Game Updates",
			Function:      "fetch_monthly_updates",
			TriggerType:   TriggerCron,
			TriggerConfig: map[string]any{"day": 1, "hour": 0, "minute": 0},
			Enabled:       true,
			Description:   "Fetch games for the previous month on the 1st of each month",
		},
		{
			ID:            "weekly_updates",
			Name:          "Weekly Game Updates",
			Function:      "fetch_weekly_updates",
			TriggerType:   TriggerCron,
			TriggerConfig: map[string]any{"day_of_week": "mon", "hour": 0, "minute": 0},
			Enabled:       true,
			Description:   "Refresh recently updated games every Monday",
		},
	}
}

type seedFile struct {
	Tasks []TaskConfig `yaml:"tasks"`
}

// LoadSeedFile reads schedule configs from a YAML file.
func LoadSeedFile(path string) ([]TaskConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("scheduler: seed file %s: %w", path, err)
	}
	return f.Tasks, nil
}
