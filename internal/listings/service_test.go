package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/listings-proxy/ddf"
	"github.com/yourorg/listings-proxy/internal/odata"
	"github.com/yourorg/listings-proxy/internal/paging"
)

type staticToken struct {
	token string
	err   error
	calls int
}

func (s *staticToken) Token(context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

type fakeUpstream struct {
	queries []ddf.Query
	links   []string
	pages   []ddf.Page
	errs    map[int]error // call index -> error
}

func (f *fakeUpstream) serve() (ddf.Page, error) {
	i := len(f.queries) + len(f.links) - 1
	if err, ok := f.errs[i]; ok {
		return ddf.Page{}, err
	}
	if i >= len(f.pages) {
		return ddf.Page{}, fmt.Errorf("unexpected call %d", i)
	}
	return f.pages[i], nil
}

func (f *fakeUpstream) Query(_ context.Context, token string, q ddf.Query) (ddf.Page, error) {
	f.queries = append(f.queries, q)
	return f.serve()
}

func (f *fakeUpstream) Next(_ context.Context, token, link string) (ddf.Page, error) {
	f.links = append(f.links, link)
	return f.serve()
}

type memCache struct {
	data map[string][]byte
	ttl  time.Duration
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.data[key] = val
	m.ttl = ttl
	return nil
}

type recordingArchiver struct{ ids []string }

func (r *recordingArchiver) Archive(_, externalID string, _ []byte) { r.ids = append(r.ids, externalID) }

type recordingMetrics struct {
	exit  string
	pages int
}

func (r *recordingMetrics) ObservePagination(exit string, pages int) {
	r.exit, r.pages = exit, pages
}

func records(from, n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(fmt.Sprintf(`{"ListingKey":"%d"}`, from+i))
	}
	return out
}

func intPtr(n int) *int { return &n }

func newService(up *fakeUpstream) *Service {
	return &Service{
		Tokens:   &staticToken{token: "tok"},
		Upstream: up,
		Config:   Config{Filter: odata.Options{DefaultTransaction: odata.TransactionForSale}, MaxPages: paging.DefaultMaxIterations},
	}
}

func TestRequestFromQuery(t *testing.T) {
	req, err := RequestFromQuery(url.Values{"city": {"Toronto"}, "page": {"2"}, "limit": {"5"}, "featuredAgentKey": {" A1 "}})
	require.NoError(t, err)
	assert.Equal(t, "Toronto", req.Params.City)
	assert.Equal(t, 2, req.Page)
	assert.Equal(t, 5, req.Limit)
	assert.Equal(t, "A1", req.FeaturedAgentKey)

	for _, bad := range []url.Values{{"page": {"0"}}, {"page": {"two"}}, {"limit": {"-1"}}} {
		_, err := RequestFromQuery(bad)
		var verr *odata.ValidationError
		assert.ErrorAs(t, err, &verr, "%v", bad)
	}
}

func TestSearchExhaustiveFollowsNextLinks(t *testing.T) {
	up := &fakeUpstream{pages: []ddf.Page{
		{Records: records(0, 100), Count: intPtr(250), NextLink: "https://ddf.example.com/Property?$skip=100"},
		{Records: records(100, 100), NextLink: "https://ddf.example.com/Property?$skip=200"},
		{Records: records(200, 50)},
	}}
	m := &recordingMetrics{}
	svc := newService(up)
	svc.Metrics = m

	res, err := svc.Search(context.Background(), SearchRequest{Params: odata.Params{City: "Toronto"}})
	require.NoError(t, err)

	assert.Len(t, res.Records, 250)
	require.NotNil(t, res.TotalCount)
	assert.Equal(t, 250, *res.TotalCount)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, paging.ExitNoNextLink, res.Exit)
	assert.Equal(t, "no_next_link", m.exit)
	assert.Equal(t, 3, m.pages)

	require.Len(t, up.queries, 1)
	q := up.queries[0]
	assert.True(t, q.Count)
	assert.Equal(t, ddf.PageSize, q.Top)
	assert.Equal(t, ddf.DefaultSelect, q.Select)
	assert.Equal(t, "OriginalEntryTimestamp desc", q.OrderBy)
	assert.Contains(t, q.Filter, "City eq 'Toronto'")
	assert.Equal(t, []string{
		"https://ddf.example.com/Property?$skip=100",
		"https://ddf.example.com/Property?$skip=200",
	}, up.links)
}

func TestSearchSinglePage(t *testing.T) {
	t.Run("first page carries count", func(t *testing.T) {
		up := &fakeUpstream{pages: []ddf.Page{{Records: records(0, 100), Count: intPtr(900), NextLink: "ignored"}}}
		res, err := newService(up).Search(context.Background(), SearchRequest{Page: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Page)
		require.NotNil(t, res.TotalCount)
		assert.Equal(t, 900, *res.TotalCount)
		assert.True(t, up.queries[0].Count)
		assert.Zero(t, up.queries[0].Skip)
		assert.Empty(t, up.links)
	})

	t.Run("later page has null total", func(t *testing.T) {
		up := &fakeUpstream{pages: []ddf.Page{{Records: records(200, 100), Count: intPtr(900)}}}
		res, err := newService(up).Search(context.Background(), SearchRequest{Page: 3})
		require.NoError(t, err)
		assert.Nil(t, res.TotalCount)
		assert.Equal(t, 200, up.queries[0].Skip)
		assert.False(t, up.queries[0].Count)
	})
}

func TestSearchFirstPageErrorIsFatal(t *testing.T) {
	upErr := &ddf.UpstreamRequestError{Status: 503}
	up := &fakeUpstream{errs: map[int]error{0: upErr}}
	_, err := newService(up).Search(context.Background(), SearchRequest{})
	var target *ddf.UpstreamRequestError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 503, target.Status)
}

func TestSearchLaterPageErrorKeepsPartial(t *testing.T) {
	up := &fakeUpstream{
		pages: []ddf.Page{{Records: records(0, 100), Count: intPtr(300), NextLink: "https://ddf.example.com/next"}},
		errs:  map[int]error{1: &ddf.UpstreamRequestError{Status: 500}},
	}
	res, err := newService(up).Search(context.Background(), SearchRequest{})
	require.NoError(t, err)
	assert.Len(t, res.Records, 100)
	assert.Equal(t, paging.ExitPageError, res.Exit)
	require.NotNil(t, res.Partial)
	assert.Equal(t, 2, res.Partial.Page)
}

func TestSearchAuthFailureSkipsUpstream(t *testing.T) {
	up := &fakeUpstream{}
	svc := newService(up)
	svc.Tokens = &staticToken{err: &ddf.AuthenticationError{Status: 401}}

	_, err := svc.Search(context.Background(), SearchRequest{})
	var target *ddf.AuthenticationError
	require.ErrorAs(t, err, &target)
	assert.Empty(t, up.queries)
}

func TestSearchValidationBeforeToken(t *testing.T) {
	tokens := &staticToken{token: "tok"}
	svc := newService(&fakeUpstream{})
	svc.Tokens = tokens

	_, err := svc.Search(context.Background(), SearchRequest{Params: odata.Params{Bedrooms: "three"}})
	var verr *odata.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, tokens.calls)

	_, err = svc.Search(context.Background(), SearchRequest{Sort: "random"})
	require.ErrorAs(t, err, &verr)
}

func TestSearchLimitAndFeatured(t *testing.T) {
	recs := []json.RawMessage{
		json.RawMessage(`{"ListingKey":"1","ListAgentKey":"x"}`),
		json.RawMessage(`{"ListingKey":"2","ListAgentKey":"A"}`),
		json.RawMessage(`{"ListingKey":"3","ListAgentKey":"y"}`),
		json.RawMessage(`{"ListingKey":"4","ListAgentKey":"A"}`),
	}
	up := &fakeUpstream{pages: []ddf.Page{{Records: recs, Count: intPtr(4)}}}

	res, err := newService(up).Search(context.Background(), SearchRequest{Limit: 3, FeaturedAgentKey: "A"})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.JSONEq(t, string(recs[1]), string(res.Records[0]))
	assert.JSONEq(t, string(recs[3]), string(res.Records[1]))
	assert.JSONEq(t, string(recs[0]), string(res.Records[2]))
}

func TestLookupRelaysRawBodyAndCaches(t *testing.T) {
	raw := []byte(`{"@odata.context":"x","value":[{"ListingKey":"O'Brien-1"}]}`)
	up := &fakeUpstream{pages: []ddf.Page{{Records: records(0, 1), Raw: raw}}}
	cache := &memCache{data: map[string][]byte{}}
	arch := &recordingArchiver{}
	svc := newService(up)
	svc.Cache = cache
	svc.Archive = arch
	svc.Config.CacheTTL = time.Minute

	body, err := svc.Lookup(context.Background(), "O'Brien-1")
	require.NoError(t, err)
	assert.Equal(t, raw, body)
	require.Len(t, up.queries, 1)
	assert.Equal(t, "ListingKey eq 'O''Brien-1'", up.queries[0].Filter)
	assert.Equal(t, 1, up.queries[0].Top)
	assert.Empty(t, up.queries[0].Select)
	assert.Equal(t, time.Minute, cache.ttl)
	assert.Equal(t, []string{"O'Brien-1"}, arch.ids)

	body, err = svc.Lookup(context.Background(), "O'Brien-1")
	require.NoError(t, err)
	assert.Equal(t, raw, body)
	assert.Len(t, up.queries, 1, "second lookup served from cache")
}

func TestLookupEmptyResultNotCached(t *testing.T) {
	raw := []byte(`{"value":[]}`)
	up := &fakeUpstream{pages: []ddf.Page{{Raw: raw}}}
	cache := &memCache{data: map[string][]byte{}}
	svc := newService(up)
	svc.Cache = cache

	body, err := svc.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, raw, body)
	assert.Empty(t, cache.data)
}

func TestLookupRejectsBlankKey(t *testing.T) {
	_, err := newService(&fakeUpstream{}).Lookup(context.Background(), "  ")
	var verr *odata.ValidationError
	assert.True(t, errors.As(err, &verr))
}

// linkUpstream serves three pages and is safe for concurrent searches.
type linkUpstream struct{}

func (linkUpstream) Query(context.Context, string, ddf.Query) (ddf.Page, error) {
	return ddf.Page{Records: records(0, 1), Count: intPtr(3), NextLink: "p2"}, nil
}

func (linkUpstream) Next(_ context.Context, _ string, link string) (ddf.Page, error) {
	if link == "p2" {
		return ddf.Page{Records: records(1, 1), NextLink: "p3"}, nil
	}
	return ddf.Page{Records: records(2, 1)}, nil
}

func TestSearchPacingIsPerSearch(t *testing.T) {
	svc := newService(nil)
	svc.Upstream = linkUpstream{}
	svc.Config.PageRate = 10

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Search(context.Background(), SearchRequest{})
			if err == nil && len(res.Records) != 3 {
				err = fmt.Errorf("got %d records", len(res.Records))
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, err := range errs {
		require.NoError(t, err)
	}
	// Three pages at 10/s take about 200ms; a shared limiter would need about 500ms.
	assert.GreaterOrEqual(t, elapsed, 180*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestSearchPacingHonoursCancellation(t *testing.T) {
	svc := newService(nil)
	svc.Upstream = linkUpstream{}
	svc.Config.PageRate = 0.001

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := svc.Search(ctx, SearchRequest{})
	require.NoError(t, err, "later page waits end the loop with a partial result")
	assert.Len(t, res.Records, 1)
	assert.Equal(t, paging.ExitPageError, res.Exit)
}
