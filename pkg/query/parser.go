// Package query turns free-text, time-anchored questions into a structured
// date + time specification the retrieval orchestrator can act on.
//
// Matching is deliberately substring-based for compatibility with how users
// already phrase queries ("what did I do yesterday morning"). The priority
// order is part of the contract; keep it behind this package so a stricter
// tokenizer can replace it without touching retrieval.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lifelog-ai/recall/pkg/timebucket"
)

// User-input errors, surfaced with guidance by the caller.
var (
	ErrInvalidDate = errors.New("could not find a date: use \"today\", \"yesterday\" or DD/MM/YYYY")
	ErrInvalidTime = errors.New("could not find a time: use a period (morning, afternoon, evening, night) or a clock time like 3:30 PM")
)

// Kind says whether the query names an exact clock time or a coarse period.
type Kind int

const (
	ExactTime Kind = iota
	NamedPeriod
)

// Spec is a parsed query. Exact is meaningful when Kind is ExactTime,
// Period when Kind is NamedPeriod. Date is canonical DD/MM/YYYY.
type Spec struct {
	Raw    string
	Date   string
	Kind   Kind
	Exact  timebucket.Clock
	Period timebucket.Period
}

// DateLayout is the canonical date form used across the engine.
const DateLayout = "02/01/2006"

var (
	datePattern = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)
	timePattern = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})(?::(\d{2}))?\s?(am|pm)?`)
)

// Parser extracts a Spec from raw text relative to a reference time.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts date and time from raw. Date priority: "today", then
// "yesterday", then a literal DD/MM/YYYY anywhere in the text. Time
// priority: the first named period appearing in the text (declaration
// order), then a clock time with optional am/pm.
func (p *Parser) Parse(raw string, now time.Time) (Spec, error) {
	spec := Spec{Raw: raw}
	lower := strings.ToLower(raw)

	date, err := extractDate(lower, now)
	if err != nil {
		return Spec{}, err
	}
	spec.Date = date

	if period, ok := extractPeriod(lower); ok {
		spec.Kind = NamedPeriod
		spec.Period = period
		return spec, nil
	}

	clock, err := extractClock(raw)
	if err != nil {
		return Spec{}, err
	}
	spec.Kind = ExactTime
	spec.Exact = clock
	return spec, nil
}

func extractDate(lower string, now time.Time) (string, error) {
	if strings.Contains(lower, "today") {
		return now.Format(DateLayout), nil
	}
	if strings.Contains(lower, "yesterday") {
		return now.AddDate(0, 0, -1).Format(DateLayout), nil
	}
	if m := datePattern.FindStringSubmatch(lower); m != nil {
		candidate := fmt.Sprintf("%s/%s/%s", m[1], m[2], m[3])
		if _, err := time.Parse(DateLayout, candidate); err != nil {
			return "", fmt.Errorf("%w: %q is not a real date", ErrInvalidDate, candidate)
		}
		return candidate, nil
	}
	return "", ErrInvalidDate
}

// extractPeriod scans the period table in declaration order; the first
// name found as a substring wins.
func extractPeriod(lower string) (timebucket.Period, bool) {
	for _, period := range timebucket.Periods {
		if strings.Contains(lower, period.Name) {
			return period, true
		}
	}
	return timebucket.Period{}, false
}

func extractClock(raw string) (timebucket.Clock, error) {
	m := timePattern.FindStringSubmatch(raw)
	if m == nil {
		return timebucket.Clock{}, ErrInvalidTime
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	second := 0
	if m[3] != "" {
		second, _ = strconv.Atoi(m[3])
	}

	switch strings.ToLower(m[4]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}

	if hour > 23 || minute > 59 || second > 59 {
		return timebucket.Clock{}, fmt.Errorf("%w: %q is out of range", ErrInvalidTime, m[0])
	}
	return timebucket.Clock{Hour: hour, Minute: minute, Second: second}, nil
}
