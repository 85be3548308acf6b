// internal/service/matching/match.go
package matching

import (
	"sort"
	"strings"

	"cimamplify-service/internal/domain/advisor"
	"cimamplify-service/internal/domain/seller"
)

const (
	SortYears   = "years"
	SortCompany = "company"
	SortNewest  = "newest"

	geographySeparator = ">"
)

// Match filters advisors down to those that fit the seller and orders them.
// Partner advisors always come first; sortBy picks the tie-breaker.
func Match(s *seller.Profile, advisors []advisor.Profile, sortBy string) []advisor.Profile {
	industry := normalize(s.Industry)
	geography := normalize(s.Geography)
	region := topRegion(s.Geography)

	out := make([]advisor.Profile, 0, len(advisors))
	for i := range advisors {
		a := &advisors[i]
		if !a.AcceptsLeads() {
			continue
		}
		if industry != "" && !containsFold(a.Industries, industry) {
			continue
		}
		if geography != "" && !containsFold(a.Geographies, geography) && !containsFold(a.Geographies, region) {
			continue
		}
		if s.AnnualRevenue != nil && !a.Revenue.Contains(*s.AnnualRevenue) {
			continue
		}
		out = append(out, *a)
	}

	sort.SliceStable(out, less(out, sortBy))
	return out
}

func less(list []advisor.Profile, sortBy string) func(i, j int) bool {
	return func(i, j int) bool {
		a, b := &list[i], &list[j]
		if a.WorkedWithCimamplify != b.WorkedWithCimamplify {
			return a.WorkedWithCimamplify
		}
		switch sortBy {
		case SortYears:
			return a.YearsExperience > b.YearsExperience
		case SortCompany:
			return strings.ToLower(a.CompanyName) < strings.ToLower(b.CompanyName)
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
}

// Paginate slices a page out of list. A nil limit returns everything.
func Paginate[T any](list []T, page int, limit *int) []T {
	if limit == nil || *limit <= 0 {
		return list
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * *limit
	if start >= len(list) {
		return []T{}
	}
	end := start + *limit
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

// Stats summarizes a match set. Industries and geographies keep first-seen order.
func Stats(matches []advisor.Profile) *advisor.MatchStats {
	st := &advisor.MatchStats{
		TotalMatches: len(matches),
		Industries:   []string{},
		Geographies:  []string{},
	}
	seenInd := map[string]bool{}
	seenGeo := map[string]bool{}
	for _, m := range matches {
		st.Industries = appendUnique(st.Industries, seenInd, m.Industries)
		st.Geographies = appendUnique(st.Geographies, seenGeo, m.Geographies)
	}
	return st
}

func appendUnique(dst []string, seen map[string]bool, values []string) []string {
	for _, v := range values {
		key := normalize(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		dst = append(dst, strings.TrimSpace(v))
	}
	return dst
}

func containsFold(values []string, want string) bool {
	if want == "" {
		return false
	}
	for _, v := range values {
		if normalize(v) == want {
			return true
		}
	}
	return false
}

// topRegion returns the segment before the first ">" in a hierarchical geography.
func topRegion(geography string) string {
	head, _, found := strings.Cut(geography, geographySeparator)
	if !found {
		return ""
	}
	return normalize(head)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
