package source

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/variazioni/variation"
)

// ErrNoDate is returned when a document name carries no recognisable date.
var ErrNoDate = errors.New("source: no date in document name")

var months = map[string]time.Month{
	"gennaio": time.January, "febbraio": time.February, "marzo": time.March,
	"aprile": time.April, "maggio": time.May, "giugno": time.June,
	"luglio": time.July, "agosto": time.August, "settembre": time.September,
	"ottobre": time.October, "novembre": time.November, "dicembre": time.December,
}

var dateRe = regexp.MustCompile(`(?:^|[^0-9])(\d{1,2})[-_ ]+(gennaio|febbraio|marzo|aprile|maggio|giugno|luglio|agosto|settembre|ottobre|novembre|dicembre)(?:[-_ ]+(\d{4}))?`)

// DocumentDate reads the variation date from a document link such as
// ".../variazioni-orario-12-maggio-2024.pdf". Without a year in the name,
// the year placing the date closest to now is used, so a document for
// 7 January read on 30 December lands in the next year.
func DocumentDate(link string, now time.Time) (variation.Date, error) {
	name := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		name = u.Path
	}
	name = strings.ToLower(path.Base(name))
	name = strings.TrimSuffix(name, path.Ext(name))

	m := dateRe.FindStringSubmatch(name)
	if m == nil {
		return variation.Date{}, fmt.Errorf("%w: %s", ErrNoDate, link)
	}
	day, _ := strconv.Atoi(m[1])
	month := months[m[2]]
	if m[3] != "" {
		year, _ := strconv.Atoi(m[3])
		return checked(year, month, day, link)
	}

	today := variation.DateOf(now)
	best, bestDist := variation.Date{}, -1
	for _, year := range []int{today.Year - 1, today.Year, today.Year + 1} {
		d, err := checked(year, month, day, link)
		if err != nil {
			continue
		}
		dist := daysBetween(d, today)
		if bestDist < 0 || dist < bestDist {
			best, bestDist = d, dist
		}
	}
	if bestDist < 0 {
		return variation.Date{}, fmt.Errorf("%w: invalid day %d %s in %s", ErrNoDate, day, m[2], link)
	}
	return best, nil
}

func checked(year int, month time.Month, day int, link string) (variation.Date, error) {
	d := variation.NewDate(year, month, day)
	if d.Day != day || d.Month != month {
		return variation.Date{}, fmt.Errorf("%w: invalid day %d/%d in %s", ErrNoDate, day, month, link)
	}
	return d, nil
}

func daysBetween(a, b variation.Date) int {
	h := a.In(time.UTC).Sub(b.In(time.UTC)).Hours()
	if h < 0 {
		h = -h
	}
	return int(h / 24)
}
