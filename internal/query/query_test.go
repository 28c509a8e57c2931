package query

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/eldtechnologies/cipherroom/internal/models"
)

var base = time.Date(2025, 9, 10, 10, 0, 0, 0, time.UTC)

func makeMessages(n int) []models.Message {
	msgs := make([]models.Message, 0, n)
	for i := n; i >= 1; i-- {
		msgs = append(msgs, models.Message{
			ID:        uint64(i),
			Room:      "deadbeefdeadbeef",
			Timestamp: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339Nano),
		})
	}
	return msgs
}

func ids(msgs []models.Message) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(t *testing.T, got []models.Message, want ...uint64) {
	t.Helper()
	g := ids(got)
	if fmt.Sprint(g) != fmt.Sprint(want) {
		t.Fatalf("expected ids %v, got %v", want, g)
	}
}

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }
func intp(v int) *int      { return &v }

func TestApplyNoParams(t *testing.T) {
	got := Apply(makeMessages(5), nil)
	equalIDs(t, got, 1, 2, 3, 4, 5)
}

func TestApplyNoParamsCapsAtMaxLimit(t *testing.T) {
	got := Apply(makeMessages(MaxLimit+25), nil)
	if len(got) != MaxLimit {
		t.Fatalf("expected %d messages, got %d", MaxLimit, len(got))
	}
	if got[0].ID != 1 || got[len(got)-1].ID != MaxLimit {
		t.Fatalf("expected ids 1..%d, got %d..%d", MaxLimit, got[0].ID, got[len(got)-1].ID)
	}
}

func TestApplyDefaultLimitWhenParamsPresent(t *testing.T) {
	got := Apply(makeMessages(150), &Params{Sort: "id"})
	if len(got) != DefaultLimit {
		t.Fatalf("expected %d messages, got %d", DefaultLimit, len(got))
	}
}

func TestApplyLimitClampedToMax(t *testing.T) {
	got := Apply(makeMessages(1200), &Params{Limit: intp(5000)})
	if len(got) != MaxLimit {
		t.Fatalf("expected %d messages, got %d", MaxLimit, len(got))
	}
}

func TestApplySinceID(t *testing.T) {
	got := Apply(makeMessages(10), &Params{SinceID: u64(7)})
	equalIDs(t, got, 8, 9, 10)
}

func TestApplyLimitAfterFilterAndSort(t *testing.T) {
	got := Apply(makeMessages(10), &Params{Limit: intp(5)})
	equalIDs(t, got, 1, 2, 3, 4, 5)

	got = Apply(makeMessages(10), &Params{SinceID: u64(3), Limit: intp(5), Order: "desc"})
	equalIDs(t, got, 10, 9, 8, 7, 6)
}

func TestApplySinceTS(t *testing.T) {
	msgs := makeMessages(5)
	msgs = append(msgs, models.Message{ID: 6, Timestamp: "garbage"})

	since := base.Add(3 * time.Minute).Format(time.RFC3339)
	got := Apply(msgs, &Params{SinceTS: str(since)})
	equalIDs(t, got, 4, 5)
}

func TestApplySinceTSUnparsableIsNoop(t *testing.T) {
	msgs := makeMessages(3)
	msgs = append(msgs, models.Message{ID: 4, Timestamp: "garbage"})

	got := Apply(msgs, &Params{SinceTS: str("yesterday")})
	equalIDs(t, got, 1, 2, 3, 4)
}

func TestApplySortTimestamp(t *testing.T) {
	// ids and timestamps disagree, as they may under concurrent writers
	msgs := []models.Message{
		{ID: 1, Timestamp: base.Add(3 * time.Second).Format(time.RFC3339Nano)},
		{ID: 2, Timestamp: base.Add(1 * time.Second).Format(time.RFC3339Nano)},
		{ID: 3, Timestamp: "not-a-time"},
		{ID: 4, Timestamp: base.Add(2 * time.Second).Format(time.RFC3339Nano)},
		{ID: 5, Timestamp: ""},
	}

	asc := Apply(append([]models.Message(nil), msgs...), &Params{Sort: "timestamp"})
	equalIDs(t, asc, 2, 4, 1, 3, 5)

	desc := Apply(append([]models.Message(nil), msgs...), &Params{Sort: "timestamp", Order: "desc"})
	equalIDs(t, desc, 5, 3, 1, 4, 2)
}

func TestApplySortTimestampMixedOffsets(t *testing.T) {
	msgs := []models.Message{
		{ID: 1, Timestamp: "2025-09-10T12:00:00+02:00"}, // 10:00Z
		{ID: 2, Timestamp: "2025-09-10T09:30:00Z"},
	}
	got := Apply(msgs, &Params{Sort: "timestamp"})
	equalIDs(t, got, 2, 1)
}

func TestApplyUnknownSortFallsBackToID(t *testing.T) {
	got := Apply(makeMessages(3), &Params{Sort: "user", Order: "desc"})
	equalIDs(t, got, 3, 2, 1)
}

func TestApplyZeroLimit(t *testing.T) {
	got := Apply(makeMessages(3), &Params{Limit: intp(0)})
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}
}

func TestParseParams(t *testing.T) {
	p := ParseParams(url.Values{})
	if p != nil {
		t.Fatalf("expected nil params for empty query, got %+v", p)
	}

	p = ParseParams(url.Values{"foo": {"bar"}})
	if p != nil {
		t.Fatalf("expected nil params for unrelated keys, got %+v", p)
	}

	q, _ := url.ParseQuery("sort=timestamp&order=desc&since_id=4&since_ts=2025-09-10T10:00:00Z&limit=20")
	p = ParseParams(q)
	if p.Sort != "timestamp" || p.Order != "desc" {
		t.Fatalf("unexpected sort/order: %+v", p)
	}
	if p.SinceID == nil || *p.SinceID != 4 {
		t.Fatalf("unexpected since_id: %v", p.SinceID)
	}
	if p.SinceTS == nil || *p.SinceTS != "2025-09-10T10:00:00Z" || !p.SinceTSValid() {
		t.Fatalf("unexpected since_ts: %v", p.SinceTS)
	}
	if p.Limit == nil || *p.Limit != 20 {
		t.Fatalf("unexpected limit: %v", p.Limit)
	}
}

func TestParseParamsDropsMalformedNumbers(t *testing.T) {
	for _, raw := range []string{"since_id=abc", "since_id=-1", "limit=-5", "limit=ten"} {
		q, _ := url.ParseQuery(raw)
		p := ParseParams(q)
		if p == nil {
			t.Fatalf("%s: expected params", raw)
		}
		if p.SinceID != nil || p.Limit != nil {
			t.Fatalf("%s: expected value dropped, got %+v", raw, p)
		}
		if len(p.Ignored) != 1 || p.Ignored[0] != raw {
			t.Fatalf("%s: expected ignored %q, got %v", raw, raw, p.Ignored)
		}
	}
}

func TestApplyMalformedNumbersUseDefaults(t *testing.T) {
	q, _ := url.ParseQuery("since_id=abc&limit=-5")
	got := Apply(makeMessages(DefaultLimit+10), ParseParams(q))
	if len(got) != DefaultLimit {
		t.Fatalf("expected %d messages, got %d", DefaultLimit, len(got))
	}
	if got[0].ID != 1 {
		t.Fatalf("expected no since_id filter, first id %d", got[0].ID)
	}
}
