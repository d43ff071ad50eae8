package worker

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"github.com/relaydesk/taskrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type pagedDirectory struct {
	pages [][]map[string]any
	err   error
}

func (d *pagedDirectory) Search(_ context.Context, _ jobs.SearchParams, page int) ([]map[string]any, bool, error) {
	if d.err != nil {
		return nil, false, d.err
	}
	if page > len(d.pages) {
		return nil, false, nil
	}
	return d.pages[page-1], page < len(d.pages), nil
}

func contacts(names ...string) []map[string]any {
	out := make([]map[string]any, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]any{"name": n})
	}
	return out
}

func searchJob(api *fakeAPI, params string) *Job {
	return NewJob(api, &types.Task{ID: "s1", Kind: types.KindDirectorySearch, Parameters: json.RawMessage(params)})
}

func TestSearchHandler_PagesUntilExhausted(t *testing.T) {
	api := &fakeAPI{}
	dir := &pagedDirectory{pages: [][]map[string]any{contacts("a", "b"), contacts("c")}}

	require.NoError(t, SearchHandler(dir)(context.Background(), searchJob(api, `{"keywords":"dentist"}`)))

	reports := api.Reports()
	require.Len(t, reports, 3)
	assert.Equal(t, map[string]any{jobs.KeyFound: 2, jobs.KeyPages: 1}, reports[0].Result)
	assert.Equal(t, map[string]any{jobs.KeyFound: 3, jobs.KeyPages: 2}, reports[1].Result)

	final := reports[2]
	assert.True(t, final.Success)
	assert.Equal(t, 3, final.Result[jobs.KeyFound])
	assert.Len(t, final.Result[jobs.KeyResults], 3)
}

func TestSearchHandler_StopsAtMaxResults(t *testing.T) {
	api := &fakeAPI{}
	dir := &pagedDirectory{pages: [][]map[string]any{contacts("a", "b"), contacts("c", "d"), contacts("e")}}

	require.NoError(t, SearchHandler(dir)(context.Background(), searchJob(api, `{"keywords":"dentist","max_results":3}`)))

	finals := api.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, 3, finals[0].Result[jobs.KeyFound])
	assert.Equal(t, 2, finals[0].Result[jobs.KeyPages])
}

func TestSearchHandler_SourceErrorIsFatal(t *testing.T) {
	api := &fakeAPI{}
	dir := &pagedDirectory{err: errors.New("rate limited")}

	err := SearchHandler(dir)(context.Background(), searchJob(api, `{"keywords":"dentist"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Empty(t, api.finals())
}

type fakeMailbox struct {
	threads  []Thread
	replies  map[string]string
	flagged  []string
	replyErr map[string]error
}

func (m *fakeMailbox) Threads(_ context.Context, max int, _ bool) ([]Thread, error) {
	if len(m.threads) > max {
		return m.threads[:max], nil
	}
	return m.threads, nil
}

func (m *fakeMailbox) Reply(_ context.Context, threadID, body string) error {
	if err := m.replyErr[threadID]; err != nil {
		return err
	}
	if m.replies == nil {
		m.replies = map[string]string{}
	}
	m.replies[threadID] = body
	return nil
}

func (m *fakeMailbox) Flag(_ context.Context, threadID string) error {
	m.flagged = append(m.flagged, threadID)
	return nil
}

type subjectResponder struct{}

func (subjectResponder) Respond(_ context.Context, thread Thread) (string, bool, error) {
	switch thread.Subject {
	case "meeting?":
		return "Tuesday works.", false, nil
	case "contract":
		return "", true, nil
	case "spam":
		return "", false, nil
	default:
		return "", false, errors.New("cannot classify")
	}
}

func TestInboxHandler(t *testing.T) {
	api := &fakeAPI{}
	box := &fakeMailbox{
		threads: []Thread{
			{ID: "1", Subject: "meeting?"},
			{ID: "2", Subject: "contract"},
			{ID: "3", Subject: "spam"},
			{ID: "4", Subject: "???"},
			{ID: "5", Subject: "meeting?"},
		},
		replyErr: map[string]error{"5": errors.New("quota exceeded")},
	}
	job := NewJob(api, &types.Task{ID: "i1", Kind: types.KindInbox, Parameters: json.RawMessage(`{"max_threads":10}`)})

	require.NoError(t, InboxHandler(box, subjectResponder{})(context.Background(), job))

	assert.Equal(t, map[string]string{"1": "Tuesday works."}, box.replies)
	assert.Equal(t, []string{"2"}, box.flagged)

	reports := api.Reports()
	require.Len(t, reports, 6)
	assert.Equal(t, map[string]any{
		jobs.KeyProcessed: 5,
		jobs.KeyReplied:   1,
		jobs.KeyFlagged:   1,
		jobs.KeyFailed:    2,
	}, reports[4].Result)

	final := reports[5]
	assert.True(t, final.Success)
	outcomes, ok := final.Result[jobs.KeyThreads].([]jobs.ThreadOutcome)
	require.True(t, ok)
	require.Len(t, outcomes, 5)
	assert.Equal(t, jobs.ThreadIgnored, outcomes[2].Status)
	assert.Equal(t, jobs.ThreadFailed, outcomes[4].Status)
	assert.Equal(t, "quota exceeded", outcomes[4].Reason)
}

func TestInboxHandler_RespectsMaxThreads(t *testing.T) {
	api := &fakeAPI{}
	box := &fakeMailbox{threads: []Thread{{ID: "1", Subject: "spam"}, {ID: "2", Subject: "spam"}}}
	job := NewJob(api, &types.Task{ID: "i1", Kind: types.KindInbox, Parameters: json.RawMessage(`{"max_threads":1}`)})

	require.NoError(t, InboxHandler(box, subjectResponder{})(context.Background(), job))
	finals := api.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, 1, finals[0].Result[jobs.KeyProcessed])
}
