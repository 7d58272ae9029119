package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/verigate/verigate/app/models"
	"github.com/verigate/verigate/internal/pkg/cache"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "webhook_job:"
	JobQueueKey      = "webhook_queue"
	JobProcessingKey = "webhook_processing"

	// Job settings
	DefaultMaxRetries = 5
	JobTTL            = 24 * time.Hour // Jobs expire after 24 hours
)

// Bookkeeper mirrors delivery outcomes onto the session row so callers can
// inspect attempts, delivered flags and last errors.
type Bookkeeper interface {
	RecordAttempt(sessionID string, delivered bool, errMsg string) error
}

type gormBookkeeper struct {
	db *gorm.DB
}

// NewBookkeeper creates delivery bookkeeping backed by GORM.
func NewBookkeeper(db *gorm.DB) Bookkeeper {
	return &gormBookkeeper{db: db}
}

func (b *gormBookkeeper) RecordAttempt(sessionID string, delivered bool, errMsg string) error {
	updates := map[string]interface{}{
		"webhook_attempts":   gorm.Expr("webhook_attempts + 1"),
		"webhook_delivered":  delivered,
		"webhook_last_error": errMsg,
	}
	if delivered {
		now := time.Now()
		updates["webhook_delivered_at"] = &now
	}
	return b.db.Model(&models.VerificationSession{}).
		Where("id = ?", sessionID).
		Updates(updates).Error
}

// Dispatcher delivers signed outbound webhooks through a bounded Redis-backed
// worker queue with exponential backoff. Enqueue failures and delivery
// failures are bookkept and logged but never surface to the transactions that
// triggered them.
type Dispatcher struct {
	client     *redis.Client
	sender     *Sender
	bookkeeper Bookkeeper
	workers    int
	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewDispatcher creates a dispatcher with the given worker count.
func NewDispatcher(workers int, bookkeeper Bookkeeper) *Dispatcher {
	if workers <= 0 {
		workers = 3 // Default number of workers
	}

	return &Dispatcher{
		client:     cache.GetClient(),
		sender:     NewSender(),
		bookkeeper: bookkeeper,
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		stopCh:     make(chan struct{}),
	}
}

// Start starts the dispatcher workers
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	log.Infof("[Dispatch] Starting %d workers", d.workers)

	// Initialize worker pool
	for i := 0; i < d.workers; i++ {
		d.workerPool <- struct{}{}
	}

	// Start workers
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop stops the dispatcher workers
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	log.Info("[Dispatch] Stopping workers...")
	close(d.stopCh)
	d.running = false
	d.wg.Wait()
	log.Info("[Dispatch] All workers stopped")
}

// Enqueue queues an outbound webhook for delivery. The payload is serialized
// once at enqueue time so retries always post identical bytes.
func (d *Dispatcher) Enqueue(sessionID, url, secret, eventType string, payload any) (*Job, error) {
	ctx := context.Background()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	job := &Job{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		URL:        url,
		Secret:     secret,
		EventType:  eventType,
		Payload:    body,
		Status:     JobStatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	jobKey := JobKeyPrefix + job.ID

	// Use a pipeline for atomic operations
	pipe := d.client.Pipeline()
	pipe.Set(ctx, jobKey, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[Dispatch] Enqueued webhook %s (event: %s)", job.ID, job.EventType)
	return job, nil
}

// Notify enqueues a delivery and drops the job handle; it is the
// fire-and-forget entry point used by session state transitions.
func (d *Dispatcher) Notify(sessionID, url, secret, eventType string, payload any) error {
	_, err := d.Enqueue(sessionID, url, secret, eventType, payload)
	return err
}

// NotifySync performs one signed delivery immediately and returns the
// outcome; used by the manual mark-as-paid path where the caller needs the
// result.
func (d *Dispatcher) NotifySync(ctx context.Context, url, secret, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	return d.sender.Send(ctx, url, secret, eventType, body)
}

// worker processes delivery jobs from the queue
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	log.Infof("[Dispatch] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-d.stopCh:
			log.Infof("[Dispatch] Worker %d stopping", id)
			return
		default:
			// Acquire worker slot
			<-d.workerPool

			job, err := d.dequeueJob(ctx)
			if err != nil {
				if err != redis.Nil {
					log.Errorf("[Dispatch] Worker %d: Error dequeuing job: %v", id, err)
				}
				// Release worker slot and wait before retry
				d.workerPool <- struct{}{}
				time.Sleep(time.Second)
				continue
			}

			if job != nil {
				d.processJob(ctx, job)
			}

			// Release worker slot
			d.workerPool <- struct{}{}
		}
	}
}

// dequeueJob gets the next job from the queue
func (d *Dispatcher) dequeueJob(ctx context.Context) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	jobID, err := d.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, time.Second).Result()
	if err != nil {
		return nil, err
	}

	jobKey := JobKeyPrefix + jobID

	jobData, err := d.client.Get(ctx, jobKey).Result()
	if err != nil {
		// Job data not found, remove from processing queue
		d.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("job data not found for ID %s", jobID)
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		// Invalid job data, remove from processing queue
		d.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	return &job, nil
}

// processJob attempts one delivery and schedules a retry on failure
func (d *Dispatcher) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	d.updateJob(ctx, job)

	err := d.sender.Send(ctx, job.URL, job.Secret, job.EventType, job.Payload)
	d.recordAttempt(job, err)

	if err != nil {
		log.Errorf("[Dispatch] Webhook %s failed: %v", job.ID, err)
		job.MarkAsFailed(err.Error())

		if job.IsRetryable() {
			delay := backoffDelay(job.RetryCount)
			log.Infof("[Dispatch] Retrying webhook %s in %s (Attempt %d/%d)", job.ID, delay, job.RetryCount, job.MaxRetries)
			job.MarkAsRetrying()
			d.updateJob(ctx, job)

			// Re-enqueue for retry after the backoff delay
			time.AfterFunc(delay, func() {
				d.client.LPush(ctx, JobQueueKey, job.ID)
			})
		} else {
			log.Errorf("[Dispatch] Webhook %s permanently failed after %d attempts", job.ID, job.RetryCount)
			d.updateJob(ctx, job)
		}
	} else {
		log.Infof("[Dispatch] Webhook %s delivered (event: %s)", job.ID, job.EventType)
		job.MarkAsCompleted()
		// Remove completed job from Redis entirely
		d.removeCompletedJob(ctx, job.ID)
	}

	// Always drop the processing marker for this run
	d.client.LRem(ctx, JobProcessingKey, 1, job.ID)
}

func (d *Dispatcher) recordAttempt(job *Job, deliveryErr error) {
	if d.bookkeeper == nil || job.SessionID == "" {
		return
	}
	errMsg := ""
	if deliveryErr != nil {
		errMsg = deliveryErr.Error()
	}
	if err := d.bookkeeper.RecordAttempt(job.SessionID, deliveryErr == nil, errMsg); err != nil {
		log.Errorf("[Dispatch] Failed to bookkeep attempt for session %s: %v", job.SessionID, err)
	}
}

func (d *Dispatcher) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[Dispatch] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := d.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[Dispatch] Failed to update job %s: %v", job.ID, err)
	}
}

func (d *Dispatcher) removeCompletedJob(ctx context.Context, jobID string) {
	if err := d.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[Dispatch] Failed to remove completed job %s: %v", jobID, err)
	}
}
