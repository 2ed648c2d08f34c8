package database

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

// ReportWriter stores one report
type ReportWriter interface {
	InsertReport(ctx context.Context, rec *models.ReportRecord) error
}

// Archiver moves report writes off the control loop. Enqueue never blocks;
// records are dropped when the queue is full.
type Archiver struct {
	writer  ReportWriter
	queue   chan models.ReportRecord
	timeout time.Duration
	dropped atomic.Uint64
	failed  atomic.Uint64
	wg      sync.WaitGroup
}

// NewArchiver creates an archiver with a queue of the given size
func NewArchiver(w ReportWriter, size int) *Archiver {
	if size <= 0 {
		size = 128
	}
	return &Archiver{
		writer:  w,
		queue:   make(chan models.ReportRecord, size),
		timeout: 5 * time.Second,
	}
}

// Start runs the writer until ctx is done, then flushes what is queued
func (a *Archiver) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case rec := <-a.queue:
				a.write(context.Background(), rec)
			case <-ctx.Done():
				for {
					select {
					case rec := <-a.queue:
						a.write(context.Background(), rec)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the writer has stopped
func (a *Archiver) Wait() {
	a.wg.Wait()
}

// Enqueue queues rec for writing and reports whether it was accepted
func (a *Archiver) Enqueue(rec models.ReportRecord) bool {
	select {
	case a.queue <- rec:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

// Dropped returns how many records were rejected by Enqueue
func (a *Archiver) Dropped() uint64 {
	return a.dropped.Load()
}

// Failed returns how many writes returned an error
func (a *Archiver) Failed() uint64 {
	return a.failed.Load()
}

func (a *Archiver) write(ctx context.Context, rec models.ReportRecord) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.writer.InsertReport(ctx, &rec); err != nil {
		a.failed.Add(1)
		log.Printf("Error archiving report from %s: %v", rec.DeviceID, err)
	}
}
