package push

import "context"

// Task 把一条推送包装成 worker 任务
type Task struct {
	Notifier Notifier
	Message  Message
}

func (t *Task) Kind() string { return "push" }

func (t *Task) Run(ctx context.Context) error {
	return t.Notifier.PushToAccount(ctx, t.Message)
}
