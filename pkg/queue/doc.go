// Package queue provides per-channel job queues with priority dispatch,
// delayed eligibility, and bounded retries.
//
// Jobs are isolated per channel so a slow channel cannot starve the
// others. Within a channel, jobs dispatch by priority (1 urgent to 4 low)
// and FIFO within a priority tier. A job enqueued with a delay stays on a
// delay scheduler until its ready time passes.
//
// Producers use an Enqueuer:
//
//	enq, _ := queue.NewEnqueuer(storage)
//	id, err := enq.Enqueue(ctx, "email", "deliver",
//		payload,
//		queue.WithPriority(queue.PriorityUrgent),
//		queue.WithDelay(10*time.Minute),
//	)
//
// Consumers run a Worker with named handlers:
//
//	w, _ := queue.NewWorker(storage, []string{"email", "sms"})
//	w.Handle("deliver", handleDeliver)
//	go w.Run(ctx)
//
// A handler error records a failed attempt; the job is rescheduled with
// exponential backoff until MaxAttempts is reached, after which it stays
// failed. Pending jobs can be cancelled by id.
package queue
