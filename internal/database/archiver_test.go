package database

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

type memWriter struct {
	mu   sync.Mutex
	recs []models.ReportRecord
	err  error
}

func (w *memWriter) InsertReport(_ context.Context, rec *models.ReportRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.recs = append(w.recs, *rec)
	return nil
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.recs)
}

func TestArchiver_WritesAndFlushes(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, 8)

	for i := 0; i < 5; i++ {
		if !a.Enqueue(models.ReportRecord{DeviceID: "n", Timestamp: time.Now(), Source: models.SourcePeer}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	cancel()
	a.Wait()

	if w.count() != 5 {
		t.Errorf("expected 5 writes, got %d", w.count())
	}
}

func TestArchiver_DropsWhenFull(t *testing.T) {
	a := NewArchiver(&memWriter{}, 1)
	if !a.Enqueue(models.ReportRecord{}) {
		t.Fatal("first enqueue should succeed")
	}
	if a.Enqueue(models.ReportRecord{}) {
		t.Error("second enqueue should be dropped")
	}
	if a.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", a.Dropped())
	}
}

func TestArchiver_CountsFailures(t *testing.T) {
	a := NewArchiver(&memWriter{err: errors.New("db down")}, 4)
	a.Enqueue(models.ReportRecord{DeviceID: "n"})

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	cancel()
	a.Wait()

	if a.Failed() != 1 {
		t.Errorf("expected 1 failure, got %d", a.Failed())
	}
}

func TestSQLUsesTableName(t *testing.T) {
	if !strings.Contains(createTableSQL(`"hotspot_reports"`), `CREATE TABLE "hotspot_reports"`) {
		t.Error("create statement should name the table")
	}
	if !strings.Contains(insertSQL(`"hotspot_reports"`), `INSERT INTO "hotspot_reports"`) {
		t.Error("insert statement should name the table")
	}
}
