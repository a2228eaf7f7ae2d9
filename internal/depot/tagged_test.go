package depot

import (
	"testing"
)

func TestParseTaggedRecords(t *testing.T) {
	out := `... depotFile //depot/Ark2/assets/rock/model/rock.ma
... clientFile /work/Ark2/assets/rock/model/rock.ma
... rev 3
... action updated

... depotFile //depot/Ark2/assets/rock/model/rock.tmp
... clientFile /work/Ark2/assets/rock/model/rock.tmp
... rev 1
... action added
`
	recs := ParseTagged(out)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0]["depotFile"] != "//depot/Ark2/assets/rock/model/rock.ma" {
		t.Errorf("depotFile = %q", recs[0]["depotFile"])
	}
	if recs[1].Int("rev", 0) != 1 {
		t.Errorf("rev = %q", recs[1]["rev"])
	}
	if recs[0].IsMessage() {
		t.Error("tagged record reported as message")
	}
}

func TestParseTaggedWithoutSeparator(t *testing.T) {
	out := "... client ws_a\n... Owner alice\n... client ws_b\n... Owner bob\n"
	recs := ParseTagged(out)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[1]["Owner"] != "bob" {
		t.Errorf("second record = %v", recs[1])
	}
}

func TestParseTaggedMessages(t *testing.T) {
	out := "Trust already established.\n"
	recs := ParseTagged(out)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	msg, ok := recs[0].Message()
	if !ok || msg != "Trust already established." {
		t.Errorf("Message() = %q, %v", msg, ok)
	}
}

func TestParseTaggedMultilineValue(t *testing.T) {
	out := "... change 42\n... desc first line\nsecond line\n... status pending\n"
	recs := ParseTagged(out)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0]["desc"] != "first line\nsecond line" {
		t.Errorf("desc = %q", recs[0]["desc"])
	}
}

func TestRecordHelpers(t *testing.T) {
	r := Record{"View1": "//depot/b/... //ws/b/...", "View0": "//depot/a/... //ws/a/...", "TicketExpiration": "x"}
	views := r.List("View")
	if len(views) != 2 || views[0] != "//depot/a/... //ws/a/..." {
		t.Errorf("List = %v", views)
	}
	if r.Int("TicketExpiration", 7) != 7 {
		t.Error("malformed int should fall back")
	}

	recs := []Record{MessageRecord("hello"), {"a": "b"}}
	if got := Messages(recs); len(got) != 1 || got[0] != "hello" {
		t.Errorf("Messages = %v", got)
	}
	if got := Tagged(recs); len(got) != 1 || got[0]["a"] != "b" {
		t.Errorf("Tagged = %v", got)
	}
}
