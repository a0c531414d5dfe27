package mongo

import (
	"testing"
	"time"

	"hypertube/internal/domain"
)

func TestContentDocRoundtrip(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	record := domain.ContentRecord{
		ID:           "42",
		ImdbID:       "tt0133093",
		Title:        "The Matrix",
		Year:         1999,
		MagnetLink:   "magnet:?xt=urn:btih:d2354e",
		Status:       domain.StatusReady,
		VideoPath:    "storage/videos/movie_42.mp4",
		LastAccessed: now,
		CreatedAt:    now.Add(-time.Hour),
		UpdatedAt:    now,
	}

	got := fromContentDoc(toContentDoc(record))

	if got != record {
		t.Errorf("roundtrip mismatch:\n got %+v\nwant %+v", got, record)
	}
}

func TestContentDocDropsSubsecondPrecision(t *testing.T) {
	record := domain.ContentRecord{
		ID:           "7",
		Status:       domain.StatusPending,
		LastAccessed: time.Date(2026, 8, 28, 10, 0, 0, 123456789, time.UTC),
		CreatedAt:    time.Unix(0, 0).UTC(),
		UpdatedAt:    time.Unix(0, 0).UTC(),
	}

	got := fromContentDoc(toContentDoc(record))

	want := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	if !got.LastAccessed.Equal(want) {
		t.Errorf("LastAccessed: got %v, want %v", got.LastAccessed, want)
	}
}

func TestSubtitleDocRoundtrip(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC)
	record := domain.SubtitleRecord{
		ContentID: "42",
		Language:  "en",
		FilePath:  "storage/subtitles/42_en.srt",
		CreatedAt: now,
	}

	got := fromSubtitleDoc(toSubtitleDoc(record))

	if got != record {
		t.Errorf("roundtrip mismatch:\n got %+v\nwant %+v", got, record)
	}
}

func TestFromSubtitleDocsPreservesOrder(t *testing.T) {
	docs := []subtitleDoc{
		{ContentID: "1", Language: "en", FilePath: "a.srt", CreatedAt: 10},
		{ContentID: "1", Language: "fr", FilePath: "b.srt", CreatedAt: 20},
	}

	records := fromSubtitleDocs(docs)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Language != "en" || records[1].Language != "fr" {
		t.Errorf("order not preserved: %+v", records)
	}
}
