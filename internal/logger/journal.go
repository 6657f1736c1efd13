// internal/logger/journal.go
package logger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autosell/internal/events"
)

// DefaultJournalFlushInterval is how often buffered journal rows reach disk.
const DefaultJournalFlushInterval = 5 * time.Second

var journalHeader = []string{
	"timestamp", "position_id", "owner_id", "token", "action",
	"reason", "quantity", "price", "received", "status", "signature",
}

// TradeJournal appends every executed sale to a CSV file. It subscribes to
// the event bus and is safe for concurrent use.
type TradeJournal struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	logger   *zap.Logger
	filePath string

	// Stats
	writtenRecords uint64
	flushCount     uint64
}

// NewTradeJournal opens filePath in append mode and writes the header when
// the file is new.
func NewTradeJournal(filePath string, flushInterval time.Duration, logger *zap.Logger) (*TradeJournal, error) {
	if flushInterval <= 0 {
		flushInterval = DefaultJournalFlushInterval
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	j := &TradeJournal{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger.Named("journal"),
		filePath: filePath,
	}

	if stat.Size() == 0 {
		if err := j.writer.Write(journalHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		j.writer.Flush()
	}

	go j.periodicFlush()

	return j, nil
}

// Attach subscribes the journal to sale events on bus.
func (j *TradeJournal) Attach(bus *events.Bus) []events.Subscription {
	return []events.Subscription{
		bus.Subscribe(events.PartialSellExecuted, j),
		bus.Subscribe(events.PositionClosed, j),
	}
}

// Handle implements events.Handler. Events other than sales are ignored.
func (j *TradeJournal) Handle(_ context.Context, event events.Event) error {
	var record []string
	switch e := event.(type) {
	case events.PartialSellEvent:
		record = []string{
			formatTime(e.Timestamp()), e.PositionID, e.OwnerID, e.TokenID, "partial_sell",
			e.Reason, formatFloat(e.Quantity), formatFloat(e.Price), formatFloat(e.Received),
			"partial", e.Signature,
		}
	case events.PositionClosedEvent:
		record = []string{
			formatTime(e.Timestamp()), e.PositionID, e.OwnerID, e.TokenID, "full_sell",
			e.Reason, "", formatFloat(e.Price), formatFloat(e.Received),
			e.Status, e.Signature,
		}
	default:
		return nil
	}
	return j.WriteRecord(record)
}

// WriteRecord writes a CSV record in a thread-safe manner
func (j *TradeJournal) WriteRecord(record []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	j.writtenRecords++
	return nil
}

// Flush forces a write of any buffered data
func (j *TradeJournal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}

	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	j.flushCount++
	return nil
}

func (j *TradeJournal) periodicFlush() {
	for {
		select {
		case <-j.ticker.C:
			if err := j.Flush(); err != nil {
				j.logger.Error("Periodic journal flush failed",
					zap.String("file", j.filePath),
					zap.Error(err))
			}
		case <-j.done:
			return
		}
	}
}

// Close flushes pending records and closes the file.
func (j *TradeJournal) Close() error {
	close(j.done)
	j.ticker.Stop()

	j.mu.Lock()
	defer j.mu.Unlock()

	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error on close: %w", err)
	}

	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	j.logger.Info("Trade journal closed",
		zap.String("file", j.filePath),
		zap.Uint64("writtenRecords", j.writtenRecords),
		zap.Uint64("flushCount", j.flushCount))

	return nil
}

// GetStats returns journal statistics
func (j *TradeJournal) GetStats() (records, flushes uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writtenRecords, j.flushCount
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
