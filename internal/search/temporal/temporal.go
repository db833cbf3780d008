// Package temporal resolves loose time phrases such as "tomorrow", "asap"
// or "friday 5pm" into an absolute lower bound for slot start times.
package temporal

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// TomorrowHour is the hour of day "tomorrow" resolves to.
const TomorrowHour = 9

var immediate = map[string]bool{
	"now":   true,
	"asap":  true,
	"today": true,
}

// Parser turns time phrases into timestamps. It is safe for concurrent use.
type Parser struct {
	now  func() time.Time
	when *when.Parser
}

// NewParser creates a Parser reading the current instant from now.
// A nil now uses time.Now.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	return &Parser{now: now, when: w}
}

// Parse resolves text relative to the parser's clock.
func (p *Parser) Parse(text string) (time.Time, bool) {
	return p.ParseAt(text, p.now())
}

// ParseAt resolves text relative to base. The boolean is false when text is
// empty or cannot be understood; callers then apply no time filter.
func (p *Parser) ParseAt(text string, base time.Time) (t time.Time, ok bool) {
	phrase := strings.ToLower(strings.TrimSpace(text))
	if phrase == "" {
		return time.Time{}, false
	}

	if immediate[phrase] {
		return base, true
	}
	if phrase == "tomorrow" {
		y, m, d := base.Date()
		return time.Date(y, m, d+1, TomorrowHour, 0, 0, 0, base.Location()), true
	}

	// Third-party parsers must never turn a bad phrase into a failed search.
	defer func() {
		if recover() != nil {
			t, ok = time.Time{}, false
		}
	}()

	text = strings.TrimSpace(text)
	if t, ok := p.parseDated(text, base); ok {
		return t, true
	}
	if r, err := p.when.Parse(text, base); err == nil && r != nil {
		return r.Time, true
	}
	return time.Time{}, false
}

// parseDated handles phrases that start with an absolute date, optionally
// followed by a clock ("2025-08-01", "2025-08-01 5pm"). A date without a
// clock keeps base's time of day.
func (p *Parser) parseDated(text string, base time.Time) (time.Time, bool) {
	if fields := strings.Fields(text); len(fields) > 1 {
		if date, err := dateparse.ParseIn(fields[0], base.Location()); err == nil {
			day := onDate(date, base)
			rest := strings.Join(fields[1:], " ")
			if r, err := p.when.Parse(rest, day); err == nil && r != nil {
				return r.Time, true
			}
		}
	}

	parsed, err := dateparse.ParseIn(text, base.Location())
	if err != nil {
		return time.Time{}, false
	}
	if !strings.Contains(text, ":") && isMidnight(parsed) {
		return onDate(parsed, base), true
	}
	return parsed, true
}

// onDate returns base's clock on date's calendar day.
func onDate(date, base time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), date.Location())
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
