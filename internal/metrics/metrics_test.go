package metrics

import "testing"

func TestSnapshotCounts(t *testing.T) {
	before := Snapshot()
	IncInserted()
	IncReplies()
	AddSyncedBatch(3)
	after := Snapshot()
	if after["events_inserted"]-before["events_inserted"] != 1 {
		t.Fatalf("inserted not counted")
	}
	if after["replies"]-before["replies"] != 1 {
		t.Fatalf("replies not counted")
	}
	if after["sync_batches"]-before["sync_batches"] != 1 || after["sync_records"]-before["sync_records"] != 3 {
		t.Fatalf("sync batch not counted: %v", after)
	}
}
