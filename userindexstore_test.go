package chatlogd

import (
	"os"
	"testing"
)

func TestUserIndexStoreAppendAndReadBack(t *testing.T) {
	root := t.TempDir()
	paths := PathMap{Root: root}

	store, err := openUserIndexStore(paths, "xqc", 2021, 1, "42")
	if err != nil {
		t.Fatalf("openUserIndexStore: %v", err)
	}

	recs := []IndexRecord{
		{Day: 1, Offset: 0, Length: 10},
		{Day: 1, Offset: 11, Length: 20},
		{Day: 2, Offset: 0, Length: 5},
	}
	for _, r := range recs {
		if err := store.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(paths.UserMonthIndex("xqc", 2021, 1, "42"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != len(recs)*IndexRecordSize {
		t.Fatalf("file size = %d, want %d", len(data), len(recs)*IndexRecordSize)
	}

	for i, want := range recs {
		buf := data[i*IndexRecordSize : (i+1)*IndexRecordSize]
		got, err := DecodeIndexRecord(buf)
		if err != nil {
			t.Fatalf("DecodeIndexRecord[%d]: %v", i, err)
		}
		if got != want {
			t.Errorf("record[%d] = %+v, want %+v", i, got, want)
		}
	}
}

func TestUserIndexStoreNeverTruncates(t *testing.T) {
	root := t.TempDir()
	paths := PathMap{Root: root}

	store, err := openUserIndexStore(paths, "xqc", 2021, 1, "42")
	if err != nil {
		t.Fatalf("openUserIndexStore: %v", err)
	}
	if err := store.Append(IndexRecord{Day: 1, Offset: 0, Length: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store2, err := openUserIndexStore(paths, "xqc", 2021, 1, "42")
	if err != nil {
		t.Fatalf("openUserIndexStore (reopen): %v", err)
	}
	if err := store2.Append(IndexRecord{Day: 2, Offset: 0, Length: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(paths.UserMonthIndex("xqc", 2021, 1, "42"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 2*IndexRecordSize {
		t.Fatalf("file size = %d, want %d (reopen must append, not truncate)", len(data), 2*IndexRecordSize)
	}
}
