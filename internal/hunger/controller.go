package hunger

import (
	"context"
	"fmt"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Controller schedules the hourly accumulator, the minute announce check and
// the morning rollover. Announcements and nags are emitted on channels; the
// gateway queues announcements behind the active utterance.
type Controller struct {
	mgr          *Manager
	rolloverHour int
	cron         *rcron.Cron

	Announcements chan string
	Nags          chan string

	now func() time.Time
}

func NewController(mgr *Manager, rolloverHour int) *Controller {
	return &Controller{
		mgr:           mgr,
		rolloverHour:  rolloverHour,
		Announcements: make(chan string, 4),
		Nags:          make(chan string, 4),
		now:           time.Now,
	}
}

func (c *Controller) Start(ctx context.Context) error {
	c.cron = rcron.New(rcron.WithSeconds())

	if _, err := c.cron.AddFunc("0 0 * * * *", c.hourlyTick); err != nil {
		return fmt.Errorf("register hourly tick: %w", err)
	}
	if _, err := c.cron.AddFunc("0 * * * * *", c.MinuteTick); err != nil {
		return fmt.Errorf("register minute tick: %w", err)
	}
	rollover := fmt.Sprintf("0 0 %d * * *", c.rolloverHour)
	if _, err := c.cron.AddFunc(rollover, c.rolloverTick); err != nil {
		return fmt.Errorf("register rollover: %w", err)
	}

	c.cron.Start()
	log.Printf("[hunger] controller started (rollover %02d:00)", c.rolloverHour)

	go func() {
		<-ctx.Done()
		c.cron.Stop()
	}()
	return nil
}

func (c *Controller) hourlyTick() {
	level, err := c.mgr.Increase(1.0)
	if err != nil {
		log.Printf("[hunger] hourly increase failed: %v", err)
		return
	}
	log.Printf("[hunger] level now %.1f/10", level)
}

// MinuteTick runs the announce/nag state machine. Exported for tests.
func (c *Controller) MinuteTick() {
	now := c.now()

	due, err := c.mgr.ShouldAnnounce(now)
	if err != nil {
		log.Printf("[hunger] announce check failed: %v", err)
		return
	}
	if due {
		if err := c.mgr.MarkAnnounced(now); err != nil {
			log.Printf("[hunger] mark announcement failed: %v", err)
			return
		}
		level, _ := c.mgr.Level()
		select {
		case c.Announcements <- announcementText(level):
		default:
			log.Printf("[hunger] announcement queue full, dropping")
		}
		return // announcement and nag are mutually exclusive in one tick
	}

	nag, err := c.mgr.ShouldNag(now)
	if err != nil {
		log.Printf("[hunger] nag check failed: %v", err)
		return
	}
	if nag {
		if err := c.mgr.MarkNagged(now); err != nil {
			log.Printf("[hunger] mark nag failed: %v", err)
			return
		}
		select {
		case c.Nags <- nagText(c.mgr.NextMealTime(now)):
		default:
			log.Printf("[hunger] nag queue full, dropping")
		}
	}
}

func (c *Controller) rolloverTick() {
	if err := c.mgr.ResetDaily(); err != nil {
		log.Printf("[hunger] morning rollover failed: %v", err)
		return
	}
	log.Printf("[hunger] morning rollover, level reset")
}

func announcementText(level float64) string {
	if level >= 9 {
		return "KVAKK! Jeg er SKIKKELIG sulten nå! Gi meg mat!"
	}
	return "Kvakk... jeg er sulten. Har du en kjeks til meg?"
}

func nagText(nextMeal string) string {
	return fmt.Sprintf("Kvakk! Anda er sulten og ingen mater henne 🦆 Neste måltid: %s", nextMeal)
}
