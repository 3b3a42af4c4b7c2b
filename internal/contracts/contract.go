// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package contracts

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Contract is a single contract record
type Contract struct {
	ID               int64  `json:"id"`
	OrganizationName string `json:"organizationName"`
	ContractNumber   string `json:"contractNumber"`
	ContractDate     string `json:"contractDate"`
	ExpirationDate   string `json:"expirationDate"`
	Amount           string `json:"amount"`
	SBIS             string `json:"sbis"`
	EIS              string `json:"eis"`
	WorkAct          string `json:"workAct"`
	ContactPerson    string `json:"contactPerson"`
	ContactPhone     string `json:"contactPhone"`
}

// Status filters
const (
	StatusAll     = "all"
	StatusActive  = "active"
	StatusExpired = "expired"
)

// ExpiringSoonDays is the window in which a contract counts as expiring soon
const ExpiringSoonDays = 30

var (
	ErrOrganizationRequired = errors.New("organization name is required")
	ErrExpirationRequired   = errors.New("expiration date is required")
)

// Validate checks the required fields
func (c Contract) Validate() error {
	if strings.TrimSpace(c.OrganizationName) == "" {
		return ErrOrganizationRequired
	}
	if strings.TrimSpace(c.ExpirationDate) == "" {
		return ErrExpirationRequired
	}
	return nil
}

// ParseDate parses DD.MM.YYYY or YYYY-MM-DD as midnight in loc.
// Out-of-range days roll over into the next month.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	var parts []string
	var day, month, year int
	switch {
	case strings.Contains(s, "."):
		parts = strings.Split(s, ".")
		if len(parts) != 3 {
			return time.Time{}, false
		}
		day, month, year = atoi(parts[0]), atoi(parts[1]), atoi(parts[2])
	case strings.Contains(s, "-"):
		parts = strings.Split(s, "-")
		if len(parts) != 3 {
			return time.Time{}, false
		}
		year, month, day = atoi(parts[0]), atoi(parts[1]), atoi(parts[2])
	default:
		return time.Time{}, false
	}
	if day <= 0 || month <= 0 || year <= 0 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc), true
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	return n
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsExpired reports whether the last day of the contract is before today.
// An empty or unparseable date is never expired.
func IsExpired(expirationDate string, now time.Time) bool {
	exp, ok := ParseDate(expirationDate, now.Location())
	if !ok {
		return false
	}
	endOfDay := exp.Add(24*time.Hour - time.Millisecond)
	return endOfDay.Before(startOfDay(now))
}

// IsExpiringSoon reports whether the contract expires within the next
// ExpiringSoonDays days
func IsExpiringSoon(expirationDate string, now time.Time) bool {
	exp, ok := ParseDate(expirationDate, now.Location())
	if !ok {
		return false
	}
	days := int(math.Ceil(exp.Sub(now).Hours() / 24))
	return days > 0 && days <= ExpiringSoonDays
}

// ParseAmount reads an amount such as "1 250 000,50". Unparseable is 0.
func ParseAmount(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Stats are the dashboard counters
type Stats struct {
	Total        int     `json:"total"`
	Active       int     `json:"active"`
	Expired      int     `json:"expired"`
	ExpiringSoon int     `json:"expiringSoon"`
	TotalAmount  float64 `json:"totalAmount"`
}

// ComputeStats counts list as of now
func ComputeStats(list []Contract, now time.Time) Stats {
	st := Stats{Total: len(list)}
	for _, c := range list {
		if IsExpired(c.ExpirationDate, now) {
			st.Expired++
		} else {
			st.Active++
		}
		if IsExpiringSoon(c.ExpirationDate, now) {
			st.ExpiringSoon++
		}
		st.TotalAmount += ParseAmount(c.Amount)
	}
	return st
}

// Filter returns the contracts matching query and status. The query is a
// case-insensitive substring of organization, number or contact person.
func Filter(list []Contract, query, status string, now time.Time) []Contract {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Contract, 0, len(list))
	for _, c := range list {
		if q != "" &&
			!strings.Contains(strings.ToLower(c.OrganizationName), q) &&
			!strings.Contains(strings.ToLower(c.ContractNumber), q) &&
			!strings.Contains(strings.ToLower(c.ContactPerson), q) {
			continue
		}
		switch status {
		case StatusActive:
			if IsExpired(c.ExpirationDate, now) {
				continue
			}
		case StatusExpired:
			if !IsExpired(c.ExpirationDate, now) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
