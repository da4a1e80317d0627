package cache

import (
	"fmt"
	"strings"
)

const keyPrefix = "pandascore"

// PageKey identifies one page of one endpoint.
type PageKey struct {
	Endpoint string
	Page     int
	PerPage  int
}

// String renders the Redis key, e.g. "pandascore:lol/leagues:page=2:per_page=100".
func (k PageKey) String() string {
	parts := []string{keyPrefix}
	if ep := strings.Trim(k.Endpoint, "/"); ep != "" {
		parts = append(parts, ep)
	}
	parts = append(parts,
		fmt.Sprintf("page=%d", k.Page),
		fmt.Sprintf("per_page=%d", k.PerPage),
	)
	return strings.Join(parts, ":")
}
