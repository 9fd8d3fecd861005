package status

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DateKeyLayout is the layout of blacklist date keys, e.g. "Fri Feb 09 2024".
const DateKeyLayout = "Mon Jan 02 2006"

// BlacklistEntry marks a calendar day whose collected data is unreliable.
type BlacklistEntry struct {
	DateKey string `yaml:"date" json:"date"`
	Reason  string `yaml:"reason" json:"reason"`
}

// Blacklist is a lookup of unreliable days keyed by DateKey.
type Blacklist map[string]string

// DefaultBlacklist holds the days known to have broken collection.
var DefaultBlacklist = NewBlacklist([]BlacklistEntry{
	{DateKey: "Fri Aug 25 2023", Reason: "Collector outage: check results were not persisted."},
	{DateKey: "Thu Dec 14 2023", Reason: "Clock skew on probe workers produced duplicated counts."},
	{DateKey: "Fri Feb 09 2024", Reason: "Partial data loss during storage migration."},
})

// NewBlacklist builds a lookup from entries. Later entries win on duplicate keys.
func NewBlacklist(entries []BlacklistEntry) Blacklist {
	bl := make(Blacklist, len(entries))
	for _, e := range entries {
		bl[e.DateKey] = e.Reason
	}
	return bl
}

// DateKey formats the calendar day of t in the blacklist layout.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// Lookup returns the reason for the calendar day of t, if blacklisted.
func (b Blacklist) Lookup(t time.Time) (string, bool) {
	reason, ok := b[DateKey(t)]
	return reason, ok
}

// Merge returns a new blacklist containing the entries of b and other.
func (b Blacklist) Merge(other Blacklist) Blacklist {
	out := make(Blacklist, len(b)+len(other))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

type blacklistFile struct {
	Entries []BlacklistEntry `yaml:"blacklist"`
}

// LoadBlacklist reads a YAML file of blacklist entries:
//
//	blacklist:
//	  - date: "Fri Feb 09 2024"
//	    reason: "..."
func LoadBlacklist(path string) (Blacklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}

	var f blacklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse blacklist YAML: %w", err)
	}

	for i, e := range f.Entries {
		if _, err := time.Parse(DateKeyLayout, e.DateKey); err != nil {
			return nil, fmt.Errorf("blacklist[%d]: date %q must look like %q", i, e.DateKey, DateKeyLayout)
		}
		if e.Reason == "" {
			return nil, fmt.Errorf("blacklist[%d]: reason is required", i)
		}
	}
	return NewBlacklist(f.Entries), nil
}
