package timebucket

import "strings"

// Period is a coarse named window of the day that queries like
// "yesterday morning" resolve to. Each period expands into 15-minute
// buckets, so its span must be a whole number of buckets.
type Period struct {
	Name  string
	Start Clock
	End   Clock
}

// Periods are matched against queries in declaration order; the first name
// found in the query text wins. Keep that order stable.
var Periods = []Period{
	{Name: "morning", Start: Clock{Hour: 7}, End: Clock{Hour: 8}},
	{Name: "afternoon", Start: Clock{Hour: 13}, End: Clock{Hour: 14}},
	{Name: "evening", Start: Clock{Hour: 17}, End: Clock{Hour: 18}},
	{Name: "night", Start: Clock{Hour: 19}, End: Clock{Hour: 20}},
}

// PeriodByName looks up a period case-insensitively.
func PeriodByName(name string) (Period, bool) {
	for _, p := range Periods {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Period{}, false
}

// Buckets expands the period into its constituent grid buckets.
func (p Period) Buckets() ([]Bucket, error) {
	return Expand(p.Start, p.End)
}

// ValidatePeriods checks every declared period expands cleanly. Call it at
// process start; a failure here means the period table itself is broken.
func ValidatePeriods() error {
	for _, p := range Periods {
		if _, err := p.Buckets(); err != nil {
			return err
		}
	}
	return nil
}
