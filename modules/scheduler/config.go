package scheduler

import "time"

// SchedulerConfig defines the tasks and jobs the scheduler emits.
type SchedulerConfig struct {
	// Tasks run on the control goroutine every Interval of simulated time.
	Tasks []TaskConfig `yaml:"tasks" toml:"tasks" desc:"Interval tasks driven by tick time"`

	// Jobs run on wall-clock cron schedules and reach the bus through the
	// deferred queue.
	Jobs []JobConfig `yaml:"jobs" toml:"jobs" desc:"Cron jobs that emit signals"`
}

// TaskConfig emits Signal every Interval of accumulated tick time.
type TaskConfig struct {
	Name     string         `yaml:"name" toml:"name" required:"true" desc:"Task name, also the emission sender"`
	Interval time.Duration  `yaml:"interval" toml:"interval" required:"true" desc:"Accumulated dt between runs"`
	Signal   string         `yaml:"signal" toml:"signal" required:"true" desc:"Signal to emit"`
	Args     map[string]any `yaml:"args" toml:"args" desc:"Args carried by the emission"`
}

// JobConfig emits Signal on a cron schedule. Schedules accept five or six
// fields (seconds optional) and descriptors such as "@every 5s".
type JobConfig struct {
	Name     string         `yaml:"name" toml:"name" required:"true" desc:"Job name, also the emission sender"`
	Schedule string         `yaml:"schedule" toml:"schedule" required:"true" desc:"Cron expression"`
	Signal   string         `yaml:"signal" toml:"signal" required:"true" desc:"Signal to emit"`
	Args     map[string]any `yaml:"args" toml:"args" desc:"Args carried by the emission"`
}
