package s3blob

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

type put struct {
	path        string
	contentType string
	data        []byte
}

type fakeWriter struct {
	puts    []put
	failOn  int // 1-based index of the Put call that fails, 0 means never
	putErr  error
	current int
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.current++
	if w.failOn != 0 && w.current == w.failOn {
		if w.putErr == nil {
			w.putErr = errors.New("upload failed")
		}
		return w.putErr
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts = append(w.puts, put{path: path, contentType: contentType, data: body})
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts = append(w.puts, put{path: path, data: body})
	return nil
}

var _ domain.BlobWriter = (*fakeWriter)(nil)

// fakePriceStore keeps samples ordered by Timestamp ascending, the same order
// the SQL store returns them in.
type fakePriceStore struct {
	rows    []domain.PriceSample
	prunes  []time.Time
	listErr error
}

func (s *fakePriceStore) ListOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.PriceSample, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.PriceSample
	for _, r := range s.rows {
		if r.Timestamp.Before(cutoff) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakePriceStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.prunes = append(s.prunes, cutoff)
	var kept []domain.PriceSample
	var deleted int64
	for _, r := range s.rows {
		if r.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return deleted, nil
}

var _ PriceArchiveStore = (*fakePriceStore)(nil)

type fakeTxLogStore struct {
	rows   []domain.TransactionLog
	prunes []time.Time
}

func (s *fakeTxLogStore) ListOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.TransactionLog, error) {
	var out []domain.TransactionLog
	for _, r := range s.rows {
		if r.CreatedAt.Before(cutoff) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeTxLogStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.prunes = append(s.prunes, cutoff)
	var kept []domain.TransactionLog
	var deleted int64
	for _, r := range s.rows {
		if r.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return deleted, nil
}

var _ TxLogArchiveStore = (*fakeTxLogStore)(nil)

func sampleAt(id int64, ts time.Time) domain.PriceSample {
	return domain.PriceSample{
		ID:        id,
		Chain:     "base",
		Address:   "0x4200000000000000000000000000000000000006",
		Symbol:    "WETH",
		PriceUSD:  3120.55,
		Source:    domain.SourceDexAggregator,
		Timestamp: ts,
	}
}

func gunzipLines(t *testing.T, data []byte) []string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	var lines []string
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan archive page: %v", err)
	}
	return lines
}

func TestArchivePriceSamples_DrainsInPages(t *testing.T) {
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	store := &fakePriceStore{}
	for i := int64(1); i <= 5; i++ {
		store.rows = append(store.rows, sampleAt(i, base.Add(time.Duration(i)*time.Minute)))
	}
	writer := &fakeWriter{}
	arch := NewArchiver(writer, store, &fakeTxLogStore{}, 2)

	before := base.Add(time.Hour)
	count, err := arch.ArchivePriceSamples(context.Background(), before)
	if err != nil {
		t.Fatalf("ArchivePriceSamples: %v", err)
	}
	if count != 5 {
		t.Fatalf("archived %d rows, want 5", count)
	}
	if len(store.rows) != 0 {
		t.Fatalf("store still holds %d rows after drain", len(store.rows))
	}

	if len(writer.puts) != 3 {
		t.Fatalf("got %d uploads, want 3 pages", len(writer.puts))
	}
	wantPrefix := "archive/price_samples/2025-01-10T130000Z/"
	for i, p := range writer.puts {
		wantPath := fmt.Sprintf("%spart-%04d.jsonl.gz", wantPrefix, i+1)
		if p.path != wantPath {
			t.Errorf("page %d path = %q, want %q", i+1, p.path, wantPath)
		}
		if p.contentType != "application/gzip" {
			t.Errorf("page %d content type = %q", i+1, p.contentType)
		}
	}

	lines := gunzipLines(t, writer.puts[0].data)
	if len(lines) != 2 {
		t.Fatalf("first page holds %d lines, want 2", len(lines))
	}
	var got domain.PriceSample
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("decode archived sample: %v", err)
	}
	if got.ID != 1 || got.Symbol != "WETH" {
		t.Errorf("first archived row = %+v", got)
	}

	// Each page prunes one microsecond past its newest row so the delete
	// covers exactly the uploaded window.
	wantPrunes := []time.Time{
		base.Add(2*time.Minute + time.Microsecond),
		base.Add(4*time.Minute + time.Microsecond),
		base.Add(5*time.Minute + time.Microsecond),
	}
	if len(store.prunes) != len(wantPrunes) {
		t.Fatalf("got %d prunes, want %d", len(store.prunes), len(wantPrunes))
	}
	for i, want := range wantPrunes {
		if !store.prunes[i].Equal(want) {
			t.Errorf("prune %d cutoff = %v, want %v", i+1, store.prunes[i], want)
		}
	}
}

func TestArchivePriceSamples_NoRowsIsNoop(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakePriceStore{}
	arch := NewArchiver(writer, store, &fakeTxLogStore{}, 100)

	count, err := arch.ArchivePriceSamples(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchivePriceSamples: %v", err)
	}
	if count != 0 {
		t.Fatalf("archived %d rows, want 0", count)
	}
	if len(writer.puts) != 0 || len(store.prunes) != 0 {
		t.Fatalf("noop run touched storage: %d puts, %d prunes", len(writer.puts), len(store.prunes))
	}
}

func TestArchivePriceSamples_SharedTimestampTailHeldBack(t *testing.T) {
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	shared := base.Add(2 * time.Minute)
	store := &fakePriceStore{rows: []domain.PriceSample{
		sampleAt(1, base.Add(time.Minute)),
		sampleAt(2, shared),
		sampleAt(3, shared),
		sampleAt(4, shared),
		sampleAt(5, base.Add(3*time.Minute)),
	}}
	writer := &fakeWriter{}
	arch := NewArchiver(writer, store, &fakeTxLogStore{}, 3)

	count, err := arch.ArchivePriceSamples(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ArchivePriceSamples: %v", err)
	}
	if count != 5 {
		t.Fatalf("archived %d rows, want 5", count)
	}
	if len(store.rows) != 0 {
		t.Fatalf("store still holds %d rows", len(store.rows))
	}

	// The first full page splits the shared-timestamp group, so only the
	// row before the group is uploaded. The group then fills its own page.
	wantSizes := []int{1, 3, 1}
	if len(writer.puts) != len(wantSizes) {
		t.Fatalf("got %d pages, want %d", len(writer.puts), len(wantSizes))
	}
	for i, want := range wantSizes {
		if got := len(gunzipLines(t, writer.puts[i].data)); got != want {
			t.Errorf("page %d holds %d rows, want %d", i+1, got, want)
		}
	}
}

func TestArchivePriceSamples_UploadFailureLeavesRows(t *testing.T) {
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	store := &fakePriceStore{rows: []domain.PriceSample{
		sampleAt(1, base),
		sampleAt(2, base.Add(time.Minute)),
	}}
	writer := &fakeWriter{failOn: 1}
	arch := NewArchiver(writer, store, &fakeTxLogStore{}, 10)

	count, err := arch.ArchivePriceSamples(context.Background(), base.Add(time.Hour))
	if err == nil {
		t.Fatal("expected upload error")
	}
	if !strings.Contains(err.Error(), "upload price_samples") {
		t.Errorf("err = %v, want upload context", err)
	}
	if count != 0 {
		t.Errorf("reported %d archived rows on failed upload", count)
	}
	if len(store.rows) != 2 {
		t.Errorf("rows pruned despite failed upload: %d left, want 2", len(store.rows))
	}
	if len(store.prunes) != 0 {
		t.Errorf("prune ran despite failed upload")
	}
}

func TestArchivePriceSamples_PruneCutoffClampedToRetention(t *testing.T) {
	before := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	store := &fakePriceStore{rows: []domain.PriceSample{
		// Within one microsecond of the cutoff: the +1us page end would
		// cross the retention boundary without the clamp.
		sampleAt(1, before.Add(-100 * time.Nanosecond)),
	}}
	writer := &fakeWriter{}
	arch := NewArchiver(writer, store, &fakeTxLogStore{}, 10)

	if _, err := arch.ArchivePriceSamples(context.Background(), before); err != nil {
		t.Fatalf("ArchivePriceSamples: %v", err)
	}
	if len(store.prunes) != 1 {
		t.Fatalf("got %d prunes, want 1", len(store.prunes))
	}
	if !store.prunes[0].Equal(before) {
		t.Errorf("prune cutoff = %v, want clamped to %v", store.prunes[0], before)
	}
}

func TestArchiveTransactionLogs_RoundTrip(t *testing.T) {
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	strategyID := int64(5)
	store := &fakeTxLogStore{rows: []domain.TransactionLog{
		{
			ID:          11,
			UserID:      42,
			StrategyID:  &strategyID,
			Description: "swap execution success",
			TxHash:      "0xdeadbeef",
			Chain:       "base",
			Status:      domain.TxSuccess,
			Details:     map[string]any{"stage": "execution"},
			CreatedAt:   base,
		},
	}}
	writer := &fakeWriter{}
	arch := NewArchiver(writer, &fakePriceStore{}, store, 10)

	count, err := arch.ArchiveTransactionLogs(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ArchiveTransactionLogs: %v", err)
	}
	if count != 1 {
		t.Fatalf("archived %d rows, want 1", count)
	}
	if len(store.rows) != 0 {
		t.Fatalf("store still holds rows after drain")
	}

	if len(writer.puts) != 1 {
		t.Fatalf("got %d uploads, want 1", len(writer.puts))
	}
	if !strings.HasPrefix(writer.puts[0].path, "archive/transaction_logs/") {
		t.Errorf("path = %q", writer.puts[0].path)
	}

	lines := gunzipLines(t, writer.puts[0].data)
	if len(lines) != 1 {
		t.Fatalf("page holds %d lines, want 1", len(lines))
	}
	var got domain.TransactionLog
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("decode archived log: %v", err)
	}
	if got.ID != 11 || got.Status != domain.TxSuccess || got.TxHash != "0xdeadbeef" {
		t.Errorf("archived log = %+v", got)
	}
}

func TestArchivePriceSamples_ListErrorPropagates(t *testing.T) {
	store := &fakePriceStore{listErr: errors.New("connection refused")}
	arch := NewArchiver(&fakeWriter{}, store, &fakeTxLogStore{}, 10)

	_, err := arch.ArchivePriceSamples(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected list error")
	}
	if !strings.Contains(err.Error(), "list price_samples") {
		t.Errorf("err = %v, want list context", err)
	}
}
