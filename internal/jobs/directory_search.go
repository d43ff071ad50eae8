package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	KeyFound   = "found"
	KeyPages   = "pages"
	KeyResults = "results"
)

// SearchParams are the parameters of a directory search task.
type SearchParams struct {
	Keywords   string `json:"keywords"`
	Location   string `json:"location,omitempty"`
	MaxResults int    `json:"max_results"`
}

func ParseSearchParams(raw json.RawMessage) (SearchParams, error) {
	var p SearchParams
	if len(raw) == 0 {
		return p, errors.New("search parameters are required")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode search parameters: %w", err)
	}
	return p, nil
}

func validateSearch(raw json.RawMessage) error {
	p, err := ParseSearchParams(raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Keywords) == "" {
		return errors.New("search keywords are required")
	}
	if p.MaxResults < 0 {
		return errors.New("max_results must not be negative")
	}
	return nil
}
