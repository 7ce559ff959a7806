package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

const (
	TypeDeliver  = "push:deliver"
	DefaultQueue = "push"
)

type deliverPayload struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func newDeliverTask(token, title, body string) (*asynq.Task, error) {
	payload, err := json.Marshal(deliverPayload{Token: token, Title: title, Body: body})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeliver, payload), nil
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSender hands notifications to the push queue instead of delivering
// them inline. A Worker drains the queue.
type QueueSender struct {
	client   Enqueuer
	maxRetry int
}

func NewQueueSender(client Enqueuer, maxRetry int) *QueueSender {
	return &QueueSender{client: client, maxRetry: maxRetry}
}

func (s *QueueSender) Send(ctx context.Context, token, title, body string) error {
	task, err := newDeliverTask(token, title, body)
	if err != nil {
		return fmt.Errorf("encode push task: %w", err)
	}

	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(DefaultQueue), asynq.MaxRetry(s.maxRetry)); err != nil {
		return fmt.Errorf("enqueue push task: %w", err)
	}
	return nil
}

// Worker consumes push tasks and delivers them with the wrapped sender.
type Worker struct {
	log    *log.Logger
	server *asynq.Server
	sender Sender
}

func NewWorker(logger *log.Logger, redisOpt asynq.RedisConnOpt, sender Sender, concurrency int) *Worker {
	w := &Worker{log: logger, sender: sender}
	w.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{DefaultQueue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Printf("push task %s failed: %v", task.Type(), err)
		}),
	})
	return w
}

func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDeliver, w.handleDeliver)
	return mux
}

func (w *Worker) handleDeliver(ctx context.Context, task *asynq.Task) error {
	var p deliverPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode push task: %v: %w", err, asynq.SkipRetry)
	}

	err := w.sender.Send(ctx, p.Token, p.Title, p.Body)
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (w *Worker) Start() error {
	return w.server.Start(w.Mux())
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
