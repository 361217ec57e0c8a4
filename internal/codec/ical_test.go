package codec

import (
	"strings"
	"testing"
	"time"
)

func wrap(component string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//test//EN\r\n" + component + "END:VCALENDAR\r\n"
}

func TestParseCalendarEvent(t *testing.T) {
	raw := wrap("BEGIN:VEVENT\r\n" +
		"UID:evt-1\r\n" +
		"DTSTAMP:20240110T090000Z\r\n" +
		"DTSTART:20240115T100000Z\r\n" +
		"DTEND:20240115T110000Z\r\n" +
		"SUMMARY:Team meeting\r\n" +
		"DESCRIPTION:Weekly catchup\r\n" +
		"LOCATION:Room 4\r\n" +
		"STATUS:CONFIRMED\r\n" +
		"CATEGORIES:work,planning\r\n" +
		"X-CUSTOM-FLAG:yes\r\n" +
		"END:VEVENT\r\n")

	records, err := ParseCalendar(raw)
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}

	rec := records[0]
	if rec.Kind != KindEvent {
		t.Errorf("kind = %q, want event", rec.Kind)
	}
	if rec.UID != "evt-1" || rec.Summary != "Team meeting" {
		t.Errorf("uid/summary = %q/%q", rec.UID, rec.Summary)
	}
	if rec.Start == nil || !rec.Start.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", rec.Start)
	}
	if len(rec.Categories) != 2 || rec.Categories[0] != "work" {
		t.Errorf("categories = %v", rec.Categories)
	}
	if rec.Extra["X-CUSTOM-FLAG"] != "yes" {
		t.Errorf("extra = %v", rec.Extra)
	}
}

func TestParseCalendarTask(t *testing.T) {
	raw := wrap("BEGIN:VTODO\r\n" +
		"UID:task-1\r\n" +
		"DTSTAMP:20240110T090000Z\r\n" +
		"DUE:20240120T170000Z\r\n" +
		"SUMMARY:Write report\r\n" +
		"STATUS:NEEDS-ACTION\r\n" +
		"RELATED-TO:task-0\r\n" +
		"END:VTODO\r\n")

	records, err := ParseCalendar(raw)
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d, err = %v", len(records), err)
	}

	rec := records[0]
	if rec.Kind != KindTask {
		t.Errorf("kind = %q, want task", rec.Kind)
	}
	if rec.Due == nil {
		t.Error("due not parsed")
	}
	if rec.ParentUID != "task-0" {
		t.Errorf("parentUID = %q, want task-0", rec.ParentUID)
	}
}

func TestParseCalendarTaskDropsStartWhenDueNotAfter(t *testing.T) {
	raw := wrap("BEGIN:VTODO\r\n" +
		"UID:task-1\r\n" +
		"DTSTAMP:20240110T090000Z\r\n" +
		"DTSTART:20240120T170000Z\r\n" +
		"DUE:20240120T170000Z\r\n" +
		"SUMMARY:Broken window\r\n" +
		"END:VTODO\r\n")

	records, err := ParseCalendar(raw)
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d, err = %v", len(records), err)
	}
	if records[0].Start != nil {
		t.Error("start must be dropped when due <= start")
	}
	if records[0].Due == nil {
		t.Error("due must survive")
	}
}

func TestParseCalendarDropsInvalidRRule(t *testing.T) {
	raw := wrap("BEGIN:VEVENT\r\n" +
		"UID:evt-1\r\n" +
		"DTSTAMP:20240110T090000Z\r\n" +
		"DTSTART:20240115T100000Z\r\n" +
		"SUMMARY:Repeating\r\n" +
		"RRULE:FREQ=NONSENSE\r\n" +
		"END:VEVENT\r\n")

	records, err := ParseCalendar(raw)
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d, err = %v", len(records), err)
	}
	if records[0].RRule != "" {
		t.Errorf("invalid RRULE must be dropped, got %q", records[0].RRule)
	}
}

func TestParseCalendarKeepsValidRRule(t *testing.T) {
	raw := wrap("BEGIN:VEVENT\r\n" +
		"UID:evt-1\r\n" +
		"DTSTAMP:20240110T090000Z\r\n" +
		"DTSTART:20240115T100000Z\r\n" +
		"SUMMARY:Repeating\r\n" +
		"RRULE:FREQ=WEEKLY;BYDAY=MO\r\n" +
		"END:VEVENT\r\n")

	records, err := ParseCalendar(raw)
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d, err = %v", len(records), err)
	}
	if records[0].RRule != "FREQ=WEEKLY;BYDAY=MO" {
		t.Errorf("rrule = %q", records[0].RRule)
	}
}

func TestParseCalendarEmptyPayload(t *testing.T) {
	for _, raw := range []string{"", "   ", "\r\n"} {
		records, err := ParseCalendar(raw)
		if err != nil {
			t.Errorf("ParseCalendar(%q) error: %v", raw, err)
		}
		if len(records) != 0 {
			t.Errorf("ParseCalendar(%q) = %d records, want 0", raw, len(records))
		}
	}
}

func TestParseCalendarSkipsComponentWithoutUID(t *testing.T) {
	raw := wrap(
		"BEGIN:VEVENT\r\nDTSTAMP:20240110T090000Z\r\nSUMMARY:No identity\r\nEND:VEVENT\r\n" +
			"BEGIN:VEVENT\r\nUID:evt-2\r\nDTSTAMP:20240110T090000Z\r\nSUMMARY:Fine\r\nEND:VEVENT\r\n")

	records, err := ParseCalendar(raw)
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	if len(records) != 1 || records[0].UID != "evt-2" {
		t.Errorf("records = %+v, want only evt-2", records)
	}
}

func TestParseCalendarSalvagesSiblings(t *testing.T) {
	// The stray BEGIN makes the payload structurally invalid as a whole; the
	// healthy component must still come out of the salvage pass.
	raw := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:evt-1\r\nDTSTAMP:20240110T090000Z\r\nSUMMARY:Good\r\nEND:VEVENT\r\n" +
		"BEGIN:VJUNK\r\nnot closed\r\n" +
		"END:VCALENDAR\r\n"

	records, err := ParseCalendar(raw)
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	if len(records) != 1 || records[0].UID != "evt-1" {
		t.Errorf("salvage produced %+v, want evt-1", records)
	}
}

func TestSerializeCalendarRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	rec := &Record{
		Kind:       KindEvent,
		UID:        "evt-1",
		Summary:    "Team meeting",
		Location:   "Room 4",
		Start:      &start,
		End:        &end,
		Status:     "CONFIRMED",
		Priority:   5,
		RRule:      "FREQ=WEEKLY;BYDAY=MO,TU",
		Categories: []string{"work", "planning"},
		Extra:      map[string]string{"X-CUSTOM-FLAG": "yes"},
	}

	data, err := SerializeCalendar(rec)
	if err != nil {
		t.Fatalf("SerializeCalendar: %v", err)
	}
	if !strings.Contains(data, "RRULE:FREQ=WEEKLY;BYDAY=MO,TU") {
		t.Errorf("RRULE must be emitted verbatim:\n%s", data)
	}
	if !strings.Contains(data, "DTSTAMP") {
		t.Error("DTSTAMP must always be emitted")
	}

	parsed, err := ParseCalendar(data)
	if err != nil || len(parsed) != 1 {
		t.Fatalf("round trip parse failed: %d records, err %v", len(parsed), err)
	}

	got := parsed[0]
	if got.UID != rec.UID || got.Summary != rec.Summary || got.Location != rec.Location {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.RRule != rec.RRule {
		t.Errorf("rrule = %q, want %q", got.RRule, rec.RRule)
	}
	if len(got.Categories) != 2 {
		t.Errorf("categories = %v", got.Categories)
	}
	if got.Priority != 5 {
		t.Errorf("priority = %d, want 5", got.Priority)
	}
	if got.Start == nil || !got.Start.Equal(start) {
		t.Errorf("start = %v, want %v", got.Start, start)
	}
	if got.Extra["X-CUSTOM-FLAG"] != "yes" {
		t.Errorf("extra = %v", got.Extra)
	}
}

func TestSerializeCalendarTask(t *testing.T) {
	due := time.Date(2024, 1, 20, 17, 0, 0, 0, time.UTC)
	rec := &Record{Kind: KindTask, UID: "task-1", Summary: "Write report", Due: &due, ParentUID: "task-0"}

	data, err := SerializeCalendar(rec)
	if err != nil {
		t.Fatalf("SerializeCalendar: %v", err)
	}
	if !strings.Contains(data, "BEGIN:VTODO") {
		t.Error("task must serialize as VTODO")
	}

	parsed, err := ParseCalendar(data)
	if err != nil || len(parsed) != 1 {
		t.Fatalf("round trip failed: %v", err)
	}
	if parsed[0].Kind != KindTask || parsed[0].ParentUID != "task-0" {
		t.Errorf("round trip = %+v", parsed[0])
	}
}

func TestSerializeCalendarRequiresUID(t *testing.T) {
	if _, err := SerializeCalendar(&Record{Kind: KindEvent, Summary: "anonymous"}); err == nil {
		t.Error("expected an error for a record without UID")
	}
}
