package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

var ErrNoUID = errors.New("component has no UID")

const prodID = "-//davsync//davsyncd//EN"

// ParseCalendar parses an iCalendar payload into domain records, one per
// VEVENT/VTODO component. Malformed components are logged and skipped;
// siblings still parse. An empty or whitespace-only payload yields no
// records and no error.
func ParseCalendar(raw string) ([]*Record, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	prepared := Repair(raw)

	cals, err := decodeCalendars(prepared)
	if err != nil {
		// The payload as a whole failed structural parsing. Salvage what we
		// can by parsing each component block in isolation.
		return salvageComponents(prepared), nil
	}

	var records []*Record
	for _, cal := range cals {
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent && comp.Name != ical.CompToDo {
				continue
			}
			rec, err := recordFromComponent(comp)
			if err != nil {
				log.Printf("Skipping malformed component (%s): %v", identifyComponent(comp), err)
				continue
			}
			records = append(records, rec)
		}
	}

	return records, nil
}

func decodeCalendars(prepared string) ([]*ical.Calendar, error) {
	dec := ical.NewDecoder(strings.NewReader(prepared))

	var cals []*ical.Calendar
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}

	if len(cals) == 0 {
		return nil, errors.New("no calendar found")
	}
	return cals, nil
}

// salvageComponents re-wraps each VEVENT/VTODO block in a minimal VCALENDAR
// and parses it on its own, so one corrupt component cannot take down the
// whole feed.
func salvageComponents(prepared string) []*Record {
	blocks := splitComponents(prepared, ical.CompEvent, ical.CompToDo)

	var records []*Record
	for _, block := range blocks {
		wrapped := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + prodID + "\r\n" + block + "END:VCALENDAR\r\n"
		cals, err := decodeCalendars(wrapped)
		if err != nil {
			log.Printf("Skipping unparsable component (%s): %v", identify(block), err)
			continue
		}
		for _, cal := range cals {
			for _, comp := range cal.Children {
				if comp.Name != ical.CompEvent && comp.Name != ical.CompToDo {
					continue
				}
				rec, err := recordFromComponent(comp)
				if err != nil {
					log.Printf("Skipping malformed component (%s): %v", identifyComponent(comp), err)
					continue
				}
				records = append(records, rec)
			}
		}
	}

	return records
}

func recordFromComponent(comp *ical.Component) (*Record, error) {
	uid, err := comp.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return nil, ErrNoUID
	}

	rec := &Record{
		Kind:  KindEvent,
		UID:   uid,
		Extra: make(map[string]string),
	}
	if comp.Name == ical.CompToDo {
		rec.Kind = KindTask
	}

	if summary, err := comp.Props.Text(ical.PropSummary); err == nil {
		rec.Summary = summary
	}
	if desc, err := comp.Props.Text(ical.PropDescription); err == nil {
		rec.Description = desc
	}
	if loc, err := comp.Props.Text(ical.PropLocation); err == nil {
		rec.Location = loc
	}
	if status, err := comp.Props.Text(ical.PropStatus); err == nil {
		rec.Status = status
	}

	rec.Start = propTime(comp.Props.Get(ical.PropDateTimeStart))
	rec.End = propTime(comp.Props.Get(ical.PropDateTimeEnd))
	rec.Due = propTime(comp.Props.Get(ical.PropDue))
	rec.Completed = propTime(comp.Props.Get(ical.PropCompleted))

	// Some servers deliver tasks whose DUE is not after DTSTART. Dropping the
	// start keeps the task usable instead of rejecting it.
	if rec.Kind == KindTask && rec.Start != nil && rec.Due != nil && !rec.Due.After(*rec.Start) {
		log.Printf("Task %s has due <= start, dropping start timestamp", rec.UID)
		rec.Start = nil
	}

	if prio, err := comp.Props.Text(ical.PropPriority); err == nil && prio != "" {
		if n, err := strconv.Atoi(prio); err == nil {
			rec.Priority = n
		}
	}

	if rule := comp.Props.Get(ical.PropRecurrenceRule); rule != nil && rule.Value != "" {
		if _, err := rrule.StrToRRule(rule.Value); err != nil {
			log.Printf("Dropping invalid RRULE on %s: %v", rec.UID, err)
		} else {
			rec.RRule = rule.Value
		}
	}

	if cats := comp.Props.Get(ical.PropCategories); cats != nil && cats.Value != "" {
		for _, cat := range strings.Split(cats.Value, ",") {
			if cat = strings.TrimSpace(cat); cat != "" {
				rec.Categories = append(rec.Categories, cat)
			}
		}
	}

	// Parent linkage arrives as a raw UID reference; the parent component may
	// not have been downloaded yet, so resolution happens in a later pass.
	if rel, err := comp.Props.Text(ical.PropRelatedTo); err == nil {
		rec.ParentUID = rel
	}

	for name, props := range comp.Props {
		if strings.HasPrefix(name, "X-") && len(props) > 0 {
			rec.Extra[name] = props[0].Value
		}
	}

	return rec, nil
}

func propTime(prop *ical.Prop) *time.Time {
	if prop == nil || prop.Value == "" {
		return nil
	}
	t, err := prop.DateTime(time.UTC)
	if err != nil {
		log.Printf("Failed to parse datetime %q: %v", prop.Value, err)
		return nil
	}
	t = t.UTC()
	return &t
}

func setRawProp(comp *ical.Component, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	comp.Props.Set(prop)
}

func identifyComponent(comp *ical.Component) string {
	uid, _ := comp.Props.Text(ical.PropUID)
	summary, _ := comp.Props.Text(ical.PropSummary)
	return fmt.Sprintf("UID=%s SUMMARY=%s", uid, summary)
}

// SerializeCalendar renders an event or task record as an iCalendar document.
// A DTSTAMP is always emitted. Only extension-namespaced (X-) extra
// properties are carried through.
func SerializeCalendar(rec *Record) (string, error) {
	if rec.UID == "" {
		return "", ErrNoUID
	}

	compName := ical.CompEvent
	if rec.Kind == KindTask {
		compName = ical.CompToDo
	}

	comp := ical.NewComponent(compName)
	comp.Props.SetText(ical.PropUID, rec.UID)
	comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	if rec.Summary != "" {
		comp.Props.SetText(ical.PropSummary, rec.Summary)
	}
	if rec.Description != "" {
		comp.Props.SetText(ical.PropDescription, rec.Description)
	}
	if rec.Location != "" {
		comp.Props.SetText(ical.PropLocation, rec.Location)
	}
	if rec.Status != "" {
		comp.Props.SetText(ical.PropStatus, rec.Status)
	}
	if rec.Start != nil {
		comp.Props.SetDateTime(ical.PropDateTimeStart, rec.Start.UTC())
	}
	if rec.End != nil {
		comp.Props.SetDateTime(ical.PropDateTimeEnd, rec.End.UTC())
	}
	if rec.Due != nil {
		comp.Props.SetDateTime(ical.PropDue, rec.Due.UTC())
	}
	if rec.Completed != nil {
		comp.Props.SetDateTime(ical.PropCompleted, rec.Completed.UTC())
	}
	if rec.Priority != 0 {
		setRawProp(comp, ical.PropPriority, strconv.Itoa(rec.Priority))
	}
	// RRULE, CATEGORIES and X- values are emitted verbatim: SetText would
	// escape their structural separators.
	if rec.RRule != "" {
		setRawProp(comp, ical.PropRecurrenceRule, rec.RRule)
	}
	if len(rec.Categories) > 0 {
		setRawProp(comp, ical.PropCategories, strings.Join(rec.Categories, ","))
	}
	if rec.ParentUID != "" {
		comp.Props.SetText(ical.PropRelatedTo, rec.ParentUID)
	}
	for name, value := range rec.Extra {
		if strings.HasPrefix(name, "X-") {
			setRawProp(comp, name, value)
		}
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, comp)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}

	return buf.String(), nil
}
