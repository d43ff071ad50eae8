package worker

import (
	"context"
	"fmt"
	"github.com/relaydesk/taskrelay/internal/jobs"
)

// DirectorySource is the external directory a search job pages through.
type DirectorySource interface {
	// Search returns one page of matches and whether more pages follow.
	Search(ctx context.Context, params jobs.SearchParams, page int) ([]map[string]any, bool, error)
}

// SearchHandler pages through source, reporting running counts after every page.
func SearchHandler(source DirectorySource) Handler {
	return func(ctx context.Context, job *Job) error {
		params, err := jobs.ParseSearchParams(job.Task.Parameters)
		if err != nil {
			return err
		}

		found := make([]map[string]any, 0)
		pages := 0
		for more := true; more; {
			if err := ctx.Err(); err != nil {
				return err
			}
			pages++
			var results []map[string]any
			results, more, err = source.Search(ctx, params, pages)
			if err != nil {
				return fmt.Errorf("search page %d: %w", pages, err)
			}
			found = append(found, results...)
			if params.MaxResults > 0 && len(found) >= params.MaxResults {
				found = found[:params.MaxResults]
				more = false
			}
			if len(results) == 0 {
				more = false
			}

			if err := reportInterim(ctx, job, map[string]any{
				jobs.KeyFound: len(found),
				jobs.KeyPages: pages,
			}); err != nil {
				return err
			}
		}

		return job.ReportFinal(ctx, true, map[string]any{
			jobs.KeyFound:   len(found),
			jobs.KeyPages:   pages,
			jobs.KeyResults: found,
		}, "")
	}
}
