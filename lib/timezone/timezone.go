package timezone

import (
	"fmt"
	"strings"
	"time"

	_ "time/tzdata"
)

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Mexico_City")
	if err != nil {
		panic(err)
	}
}

// the portal renders every date in local (Mexico City) time, so date math
// has to happen there too or a voucher sold at 11pm lands on the next day.
func Now() time.Time {
	return time.Now().In(Location)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// MonthRange returns [first day of month, first day of next month) in loc.
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

var portalLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2/1/2006 15:04",
	"02/01/2006",
	"2/1/2006",
}

// ParsePortalDate parses the dd/mm/yyyy[ hh:mm[:ss]] format used across the
// portal's listings. an empty (or placeholder) value yields ok == false.
func ParsePortalDate(value string, loc *time.Location) (t time.Time, ok bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "-" || value == "--" {
		return time.Time{}, false, nil
	}
	for _, layout := range portalLayouts {
		t, err = time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized portal date %q", value)
}
