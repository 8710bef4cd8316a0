package entities

import (
	"sort"
	"strings"
)

const routingPrefixLen = 4

type Institution struct {
	Code     string
	Name     string
	Branches map[string]string // routing code -> branch name
}

type Institutions []Institution

var DefaultInstitutions = Institutions{
	{
		Code: "HDFC",
		Name: "HDFC Bank",
		Branches: map[string]string{
			"HDFC0001": "Mumbai Branch",
			"HDFC0002": "Delhi Branch",
			"HDFC0003": "Bangalore Branch",
		},
	},
	{
		Code: "ICICI",
		Name: "ICICI Bank",
		Branches: map[string]string{
			"ICIC0001": "Mumbai Branch",
			"ICIC0002": "Delhi Branch",
			"ICIC0003": "Bangalore Branch",
		},
	},
	{
		Code: "SBI",
		Name: "State Bank of India",
		Branches: map[string]string{
			"SBIN0001": "Mumbai Branch",
			"SBIN0002": "Delhi Branch",
			"SBIN0003": "Bangalore Branch",
		},
	},
}

// Resolve returns the institution code owning the routing code. Matching is done on the
// routing prefix, so unknown branches of a known institution still resolve.
func (is Institutions) Resolve(routingCode string) (string, bool) {
	if len(routingCode) < routingPrefixLen {
		return "", false
	}
	prefix := strings.ToUpper(routingCode[:routingPrefixLen])
	for _, inst := range is {
		for branch := range inst.Branches {
			if strings.HasPrefix(branch, prefix) {
				return inst.Code, true
			}
		}
	}
	return "", false
}

// Codes returns the institution codes in sorted order.
func (is Institutions) Codes() []string {
	codes := make([]string, 0, len(is))
	for _, inst := range is {
		codes = append(codes, inst.Code)
	}
	sort.Strings(codes)
	return codes
}
