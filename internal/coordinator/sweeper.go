package coordinator

import (
	"context"
	"github.com/relaydesk/taskrelay/internal/constants"
	"github.com/relaydesk/taskrelay/internal/lock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
	"log"
	"sync"
)

const sweepFanOut = 8

// Sweeper re-queues abandoned tasks on a cron schedule. Coordinators sharing a database
// take turns through a non-blocking advisory lock, so each tick sweeps once.
type Sweeper struct {
	service  *Service
	lock     lock.DistributedLockManager
	schedule string
	instance string
}

func NewSweeper(service *Service, lockManager lock.DistributedLockManager, schedule, instance string) *Sweeper {
	return &Sweeper{
		service:  service,
		lock:     lockManager,
		schedule: schedule,
		instance: instance,
	}
}

// Start runs the schedule until ctx is done.
func (sw *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(sw.schedule, func() { sw.RunOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	log.Printf("Sweeper[%s]: started with schedule %q", sw.instance, sw.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	log.Printf("Sweeper[%s]: stopped", sw.instance)
	return ctx.Err()
}

// RunOnce performs a single sweep if no other instance is sweeping. It returns the IDs
// of the re-queued tasks.
func (sw *Sweeper) RunOnce(ctx context.Context) []string {
	acquired, err := sw.lock.TryAcquire(ctx, constants.StaleSweepLock)
	if err != nil {
		log.Printf("Sweeper[%s]: %v", sw.instance, err)
		return nil
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := sw.lock.Release(ctx, constants.StaleSweepLock); err != nil {
			log.Printf("Sweeper[%s]: %v", sw.instance, err)
		}
	}()

	ids, err := sw.service.SweepStale(ctx)
	if err != nil {
		log.Printf("Sweeper[%s]: requeue stale tasks: %v", sw.instance, err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}
	log.Printf("Sweeper[%s]: re-queued %d stale task(s)", sw.instance, len(ids))

	sem := semaphore.NewWeighted(sweepFanOut)
	var wg sync.WaitGroup
	for _, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			defer sem.Release(1)
			task, err := sw.service.tasks.FindByID(ctx, taskID)
			if err != nil {
				log.Printf("Sweeper[%s]: load re-queued task %s: %v", sw.instance, taskID, err)
				return
			}
			sw.service.afterRequeue(ctx, task)
		}(id)
	}
	wg.Wait()
	return ids
}
