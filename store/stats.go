package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/hazyhaar/variazioni/variation"
)

// Ranked is one leaderboard entry.
type Ranked struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Bucket counts variations for one month, day or hour.
type Bucket struct {
	Key   int `json:"key"`
	Count int `json:"count"`
}

// WeekdayAverage is the mean number of variations per published date
// falling on Weekday.
type WeekdayAverage struct {
	Weekday time.Weekday `json:"weekday"`
	Average float64      `json:"average"`
	Dates   int          `json:"dates"`
}

// AgeTotal aggregates one class age (the leading year digit).
type AgeTotal struct {
	Age   int `json:"age"`
	Count int `json:"count"`
}

// ClassesLeaderboard ranks classes by number of variations, most first.
func (s *Store) ClassesLeaderboard(ctx context.Context) ([]Ranked, error) {
	return s.ranked(ctx, `SELECT class_name, COUNT(*) AS n FROM variations
		WHERE class_name GLOB '[0-9][A-Z]*'
		GROUP BY class_name ORDER BY n DESC, class_name`)
}

// ProfessorsLeaderboard ranks absent teachers by number of variations.
func (s *Store) ProfessorsLeaderboard(ctx context.Context) ([]Ranked, error) {
	return s.ranked(ctx, `SELECT teacher, COUNT(*) AS n FROM variations
		WHERE teacher != '-'
		GROUP BY teacher ORDER BY n DESC, teacher`)
}

// VariationsPerClassAge ranks the classes of one year (4 covers 4A, 4B,
// 4INF, ...).
func (s *Store) VariationsPerClassAge(ctx context.Context, age int) ([]Ranked, error) {
	if age < 1 || age > 9 {
		return nil, fmt.Errorf("store: class age %d out of range", age)
	}
	return s.ranked(ctx, `SELECT class_name, COUNT(*) AS n FROM variations
		WHERE class_name GLOB ? || '[A-Z]*'
		GROUP BY class_name ORDER BY n DESC, class_name`, age)
}

func (s *Store) ranked(ctx context.Context, query string, args ...any) ([]Ranked, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: leaderboard: %w", err)
	}
	defer rows.Close()
	out := []Ranked{}
	for rows.Next() {
		var r Ranked
		if err := rows.Scan(&r.Name, &r.Count); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// YearlyStats counts variations per calendar month, all twelve months
// present.
func (s *Store) YearlyStats(ctx context.Context) ([]Bucket, error) {
	return s.buckets(ctx, 1, 12, `SELECT CAST(strftime('%m', date) AS INTEGER), COUNT(*)
		FROM variations GROUP BY 1`)
}

// MonthlyStats counts variations per day of month for one month, across
// years, days 1 to 31 present.
func (s *Store) MonthlyStats(ctx context.Context, month time.Month) ([]Bucket, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("store: month %d out of range", month)
	}
	return s.buckets(ctx, 1, 31, `SELECT CAST(strftime('%d', date) AS INTEGER), COUNT(*)
		FROM variations WHERE CAST(strftime('%m', date) AS INTEGER) = ? GROUP BY 1`, int(month))
}

// HourlyStats counts variations per school hour, hours 1 to 6 always
// present. Later hours appear when they have data.
func (s *Store) HourlyStats(ctx context.Context) ([]Bucket, error) {
	return s.buckets(ctx, 1, 6, `SELECT hour, COUNT(*) FROM variations GROUP BY hour`)
}

func (s *Store) buckets(ctx context.Context, lo, hi int, query string, args ...any) ([]Bucket, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()
	counts := make(map[int]int)
	for rows.Next() {
		var k, n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		counts[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for k := lo; k <= hi; k++ {
		if _, ok := counts[k]; !ok {
			counts[k] = 0
		}
	}
	out := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, Bucket{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// WeekdayStats averages variations per published date for each weekday,
// Monday first. Weekdays without data average 0.
func (s *Store) WeekdayStats(ctx context.Context) ([]WeekdayAverage, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT CAST(strftime('%w', date) AS INTEGER),
		COUNT(*), COUNT(DISTINCT date) FROM variations GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("store: weekday stats: %w", err)
	}
	defer rows.Close()
	type agg struct{ n, dates int }
	by := make(map[time.Weekday]agg)
	for rows.Next() {
		var wd, n, dates int
		if err := rows.Scan(&wd, &n, &dates); err != nil {
			return nil, fmt.Errorf("scan weekday stats: %w", err)
		}
		by[time.Weekday(wd)] = agg{n, dates}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]WeekdayAverage, 0, 7)
	for i := 1; i <= 7; i++ {
		wd := time.Weekday(i % 7)
		a := by[wd]
		w := WeekdayAverage{Weekday: wd, Dates: a.dates}
		if a.dates > 0 {
			w.Average = float64(a.n) / float64(a.dates)
		}
		out = append(out, w)
	}
	return out, nil
}

// Summary totals variations per class age, youngest first.
func (s *Store) Summary(ctx context.Context) ([]AgeTotal, error) {
	return s.ageTotals(ctx, `SELECT CAST(substr(class_name, 1, 1) AS INTEGER), COUNT(*)
		FROM variations WHERE class_name GLOB '[0-9][A-Z]*' GROUP BY 1 ORDER BY 1`)
}

// ClassesCount is the number of distinct classes with variations per age.
func (s *Store) ClassesCount(ctx context.Context) ([]AgeTotal, error) {
	return s.ageTotals(ctx, `SELECT CAST(substr(class_name, 1, 1) AS INTEGER), COUNT(DISTINCT class_name)
		FROM variations WHERE class_name GLOB '[0-9][A-Z]*' GROUP BY 1 ORDER BY 1`)
}

func (s *Store) ageTotals(ctx context.Context, query string) ([]AgeTotal, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: summary: %w", err)
	}
	defer rows.Close()
	out := []AgeTotal{}
	for rows.Next() {
		var a AgeTotal
		if err := rows.Scan(&a.Age, &a.Count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// People returns every distinct teacher or substitute name, sorted.
func (s *Store) People(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT teacher FROM variations
		UNION SELECT substitute_1 FROM variations
		UNION SELECT substitute_2 FROM variations`)
	if err != nil {
		return nil, fmt.Errorf("store: people: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan people: %w", err)
		}
		if !variation.Person(name).IsNone() && name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, rows.Err()
}

// FindTeacher fuzzy-matches query against known names, closest first.
// OCR and typing slips in the documents make exact lookup unreliable.
func (s *Store) FindTeacher(ctx context.Context, query string, limit int) ([]string, error) {
	people, err := s.People(ctx)
	if err != nil {
		return nil, err
	}
	matches := fuzzy.RankFindNormalizedFold(query, people)
	sort.Sort(matches)
	if limit <= 0 {
		limit = 10
	}
	out := make([]string, 0, min(limit, len(matches)))
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		out = append(out, m.Target)
	}
	return out, nil
}
