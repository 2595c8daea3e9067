package schedule

import "context"

// Task is one schedulable unit of work.
type Task interface {
	Run(ctx context.Context) error
	Name() string
}
