package flowcontrol

import (
	"time"

	"github.com/charmbracelet/log"
	channels "gopkg.in/eapache/channels.v1"

	"github.com/latticemw/rtpscore/core/worker"
)

// Controller is the writer-side async delivery thread (spec.md §4.6): one
// goroutine per configured FlowController, draining its Scheduler under the
// configured PublishingMode and bandwidth cap.
type Controller struct {
	worker.Worker

	scheduler *Scheduler
	mode      PublishingMode
	limiter   *bandwidthLimiter
	period    time.Duration

	wake channels.Channel
	log  *log.Logger
}

// NewController builds a Controller. maxBytesPerPeriod <= 0 disables the
// bandwidth cap (meaningful only under LimitedAsync).
func NewController(discipline Discipline, mode PublishingMode, reservations []Reservation, maxBytesPerPeriod int, period time.Duration, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		scheduler: NewScheduler(discipline, reservations),
		mode:      mode,
		limiter:   newBandwidthLimiter(maxBytesPerPeriod, period, time.Now()),
		period:    period,
		wake:      channels.NewInfiniteChannel(),
		log:       logger,
	}
}

// Start launches the controller's drain goroutine. A no-op under PureSync,
// which never queues anything.
func (c *Controller) Start() {
	if c.mode == PureSync {
		return
	}
	c.Go(c.run)
}

// Stop halts the drain goroutine and waits for it to exit.
func (c *Controller) Stop() {
	c.Halt()
	c.Wait()
}

// Submit delivers or enqueues it according to the configured publishing
// mode (spec.md §4.6), returning the outcome of any synchronous attempt.
func (c *Controller) Submit(it *Item, deadline time.Time) DeliveryResult {
	switch c.mode {
	case PureSync:
		return it.Deliver(deadline)
	case Sync:
		res := it.Deliver(deadline)
		if res == NotDelivered {
			c.scheduler.Push(it)
			c.wakeUp()
		}
		return res
	default: // LimitedAsync
		c.scheduler.Push(it)
		c.wakeUp()
		return NotDelivered
	}
}

// Remove unlinks it from the pending queue if present (invariant I7),
// e.g. when a higher-level history eviction removes the underlying cache
// before the controller has delivered it.
func (c *Controller) Remove(it *Item) bool {
	return c.scheduler.Remove(it)
}

func (c *Controller) wakeUp() {
	c.wake.In() <- struct{}{}
}

func (c *Controller) run() {
	var tick <-chan time.Time
	if c.mode == LimitedAsync && c.period > 0 {
		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.HaltCh():
			return
		case <-tick:
			c.scheduler.ResetPeriod()
			c.drain()
		case <-c.wake.Out():
			c.drain()
		}
	}
}

// drain pops and delivers until the queue is empty or the next item is
// blocked by the bandwidth cap.
func (c *Controller) drain() {
	for {
		it, ok := c.scheduler.Pop()
		if !ok {
			return
		}
		if c.mode == LimitedAsync && !c.limiter.allow(it.Bytes, time.Now()) {
			c.scheduler.Push(it)
			return
		}
		res := it.Deliver(time.Now().Add(c.period))
		if res != Delivered {
			c.log.Debug("flowcontrol: delivery deferred", "writer", it.WriterGUID, "result", res)
			c.scheduler.Push(it)
			return
		}
	}
}
