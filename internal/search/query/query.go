// Package query turns conversational text ("fade with alex under 40 today")
// into a structured search request using ordered keyword rules.
package query

import (
	"strconv"
	"strings"

	"github.com/alex-user-go/slotfinder/internal/search/types"
)

// BudgetCeiling bounds the numbers read as a budget. Larger numbers are
// assumed to be something else, such as a time or an address.
const BudgetCeiling = 200

// rule maps any of a set of substrings to a value. Rules are evaluated in
// order and the first match wins.
type rule struct {
	keywords []string
	value    string
}

func (r rule) matches(text string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// "women" must precede "men", which it contains.
var serviceRules = []rule{
	{keywords: []string{"fade"}, value: "fade"},
	{keywords: []string{"women"}, value: "Women's Cut"},
	{keywords: []string{"men"}, value: "Men's Cut"},
}

var timingRules = []rule{
	{keywords: []string{"today", "asap"}, value: "today"},
	{keywords: []string{"tomorrow"}, value: "tomorrow"},
}

const stylistMarker = "with "

var budgetStripper = strings.NewReplacer("$", "", ",", "")

// Interpret derives a search request from free text. It never fails:
// unrecognised text yields a request with no filters.
func Interpret(text string) types.Request {
	if strings.TrimSpace(text) == "" {
		return types.NewRequest()
	}

	q := strings.ToLower(text)

	req := types.NewRequest()
	req.Query = text
	req.BudgetMax = Budget(q)
	req.Service = firstMatch(serviceRules, q)
	req.When = firstMatch(timingRules, q)
	req.Stylist = Stylist(q)
	return req
}

// Budget returns the last all-digit token below BudgetCeiling, ignoring
// "$" and "," characters, or nil when there is none.
func Budget(q string) *float64 {
	var budget *float64
	for _, token := range strings.Fields(budgetStripper.Replace(q)) {
		if !isDigits(token) {
			continue
		}
		n, err := strconv.Atoi(token)
		if err != nil || n >= BudgetCeiling {
			continue
		}
		v := float64(n)
		budget = &v
	}
	return budget
}

// Stylist returns the word following the first "with ", without trailing
// punctuation, or "" when there is none.
func Stylist(q string) string {
	_, rest, found := strings.Cut(q, stylistMarker)
	if !found {
		return ""
	}
	words := strings.Fields(rest)
	if len(words) == 0 {
		return ""
	}
	return strings.TrimRight(words[0], ".,!")
}

func firstMatch(rules []rule, text string) string {
	for _, r := range rules {
		if r.matches(text) {
			return r.value
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
