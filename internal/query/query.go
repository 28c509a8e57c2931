// Package query filters, orders and truncates a room's messages.
package query

import (
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/eldtechnologies/cipherroom/internal/models"
)

const (
	// MaxLimit caps every response.
	MaxLimit = 1000
	// DefaultLimit applies when params are present but carry no limit.
	DefaultLimit = 100
)

// Params are the optional query parameters of a read. A nil *Params means
// no parameters were supplied at all.
type Params struct {
	Sort    string
	Order   string
	SinceID *uint64
	SinceTS *string
	Limit   *int

	// Ignored lists the key=value pairs dropped because they did not parse.
	Ignored []string
}

var paramKeys = []string{"sort", "order", "since_id", "since_ts", "limit"}

// ParseParams builds Params from a request query. It returns nil when none
// of the recognised keys are present. A since_id or limit that is not a
// non-negative integer is dropped: since_id applies no filter and limit
// falls back to DefaultLimit.
func ParseParams(values url.Values) *Params {
	present := false
	for _, k := range paramKeys {
		if values.Has(k) {
			present = true
			break
		}
	}
	if !present {
		return nil
	}

	p := &Params{
		Sort:  values.Get("sort"),
		Order: values.Get("order"),
	}

	if values.Has("since_id") {
		raw := values.Get("since_id")
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			p.SinceID = &id
		} else {
			p.Ignored = append(p.Ignored, "since_id="+raw)
		}
	}

	if values.Has("since_ts") {
		ts := values.Get("since_ts")
		p.SinceTS = &ts
	}

	if values.Has("limit") {
		raw := values.Get("limit")
		if limit, err := strconv.Atoi(raw); err == nil && limit >= 0 {
			p.Limit = &limit
		} else {
			p.Ignored = append(p.Ignored, "limit="+raw)
		}
	}

	return p
}

// SinceTSValid reports whether SinceTS is set and parses as RFC 3339.
// An unparsable value disables the filter rather than rejecting the read.
func (p *Params) SinceTSValid() bool {
	if p == nil || p.SinceTS == nil {
		return false
	}
	_, ok := parseTimestamp(*p.SinceTS)
	return ok
}

// Apply filters, sorts and truncates messages. The input slice may be
// reordered.
func Apply(messages []models.Message, p *Params) []models.Message {
	if p == nil {
		sortByID(messages, true)
		return truncate(messages, MaxLimit)
	}

	if p.SinceID != nil {
		since := *p.SinceID
		messages = filter(messages, func(m models.Message) bool {
			return m.ID > since
		})
	}

	if p.SinceTS != nil {
		if since, ok := parseTimestamp(*p.SinceTS); ok {
			messages = filter(messages, func(m models.Message) bool {
				ts, ok := parseTimestamp(m.Timestamp)
				return ok && ts.After(since)
			})
		}
	}

	asc := p.Order != "desc"
	if p.Sort == "timestamp" {
		sortByTimestamp(messages, asc)
	} else {
		sortByID(messages, asc)
	}

	limit := DefaultLimit
	if p.Limit != nil {
		limit = *p.Limit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return truncate(messages, limit)
}

func parseTimestamp(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func filter(messages []models.Message, keep func(models.Message) bool) []models.Message {
	out := messages[:0]
	for _, m := range messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func sortByID(messages []models.Message, asc bool) {
	sort.SliceStable(messages, func(i, j int) bool {
		if asc {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].ID > messages[j].ID
	})
}

// compareTimestamps orders by parsed timestamp. Unparsable timestamps sort
// after every valid one; two unparsable timestamps fall back to id.
func compareTimestamps(a, b models.Message) int {
	at, aok := parseTimestamp(a.Timestamp)
	bt, bok := parseTimestamp(b.Timestamp)
	switch {
	case aok && bok:
		return at.Compare(bt)
	case aok:
		return -1
	case bok:
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func sortByTimestamp(messages []models.Message, asc bool) {
	sort.SliceStable(messages, func(i, j int) bool {
		c := compareTimestamps(messages[i], messages[j])
		if asc {
			return c < 0
		}
		return c > 0
	})
}

func truncate(messages []models.Message, limit int) []models.Message {
	if len(messages) > limit {
		return messages[:limit]
	}
	return messages
}
