// Package listings runs property searches and single-listing lookups against
// the DDF Property resource.
package listings

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/yourorg/listings-proxy/ddf"
	"github.com/yourorg/listings-proxy/internal/odata"
	"github.com/yourorg/listings-proxy/internal/paging"
)

const (
	snapshotEndpoint = "Property"
	cacheKeyPrefix   = "ddf:listing:"
)

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Upstream interface {
	Query(ctx context.Context, token string, q ddf.Query) (ddf.Page, error)
	Next(ctx context.Context, token, link string) (ddf.Page, error)
}

// Cache stores raw lookup bodies. A miss is ok=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Archiver receives every raw upstream body. It must not block.
type Archiver interface {
	Archive(endpoint, externalID string, payload []byte)
}

type Recorder interface {
	ObservePagination(exit string, pages int)
}

type Config struct {
	Filter   odata.Options
	MaxPages int
	// PageRate caps upstream page requests per second within one search.
	// Zero disables pacing.
	PageRate float64
	Expand   string
	CacheTTL time.Duration
}

// Service is safe for concurrent use. Tokens and Upstream are required.
type Service struct {
	Tokens   TokenSource
	Upstream Upstream
	Cache    Cache
	Archive  Archiver
	Metrics  Recorder
	Config   Config
}

// SearchRequest is a parsed /properties query.
type SearchRequest struct {
	Params odata.Params
	Sort   string
	// Page selects single-page mode when positive.
	Page             int
	Limit            int
	FeaturedAgentKey string
}

func RequestFromQuery(q url.Values) (SearchRequest, error) {
	req := SearchRequest{
		Params:           odata.ParamsFromQuery(q),
		Sort:             q.Get("sort"),
		FeaturedAgentKey: strings.TrimSpace(q.Get("featuredAgentKey")),
	}
	var err error
	if req.Page, err = positiveInt("page", q.Get("page")); err != nil {
		return SearchRequest{}, err
	}
	if req.Limit, err = positiveInt("limit", q.Get("limit")); err != nil {
		return SearchRequest{}, err
	}
	return req, nil
}

func positiveInt(param, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &odata.ValidationError{Param: param, Value: raw, Reason: "must be a positive integer"}
	}
	return n, nil
}

type Result struct {
	Records []json.RawMessage
	// TotalCount is nil when the upstream did not report one.
	TotalCount *int
	// Page is zero for exhaustive searches.
	Page int
	// Pages is the number of upstream pages fetched.
	Pages   int
	Exit    paging.Exit
	Partial *ddf.PartialResultError
}

func (s *Service) Search(ctx context.Context, req SearchRequest) (Result, error) {
	filter, err := odata.Build(req.Params, s.Config.Filter)
	if err != nil {
		return Result{}, err
	}
	orderBy, err := odata.OrderBy(req.Sort)
	if err != nil {
		return Result{}, err
	}
	token, err := s.Tokens.Token(ctx)
	if err != nil {
		return Result{}, err
	}

	log := zerolog.Ctx(ctx)
	q := ddf.Query{
		Filter:  filter.String(),
		Select:  ddf.DefaultSelect,
		OrderBy: orderBy,
		Expand:  s.Config.Expand,
		Top:     ddf.PageSize,
	}

	var res Result
	if req.Page > 0 {
		q.Skip = paging.Offset(req.Page)
		q.Count = req.Page == 1
		page, err := s.fetch(ctx, token, q)
		if err != nil {
			return Result{}, err
		}
		res = Result{Records: page.Records, Page: req.Page, Pages: 1}
		if q.Count {
			res.TotalCount = page.Count
		}
	} else {
		q.Count = true
		pace := s.pacer()
		loop, err := paging.Collect(ctx, s.Config.MaxPages,
			func(ctx context.Context) (ddf.Page, error) {
				if err := pace.Wait(ctx); err != nil {
					return ddf.Page{}, &ddf.UpstreamRequestError{Err: err}
				}
				return s.fetch(ctx, token, q)
			},
			func(ctx context.Context, link string) (ddf.Page, error) {
				if err := pace.Wait(ctx); err != nil {
					return ddf.Page{}, &ddf.UpstreamRequestError{URL: link, Err: err}
				}
				return s.next(ctx, token, link)
			},
		)
		if err != nil {
			return Result{}, err
		}
		res = Result{
			Records:    loop.Records,
			TotalCount: loop.Total,
			Pages:      loop.Iterations,
			Exit:       loop.Exit,
			Partial:    loop.Partial,
		}
		if loop.Partial != nil {
			log.Warn().Err(loop.Partial.Err).
				Int("page", loop.Partial.Page).
				Int("fetched", loop.Partial.Fetched).
				Msg("pagination stopped early")
		}
		if s.Metrics != nil {
			s.Metrics.ObservePagination(loop.Exit.String(), loop.Iterations)
		}
	}

	res.Records = paging.Truncate(paging.FeaturedFirst(res.Records, req.FeaturedAgentKey), req.Limit)
	log.Debug().
		Str("policy", string(filter.Policy)).
		Int("pages", res.Pages).
		Int("records", len(res.Records)).
		Str("exit", res.Exit.String()).
		Msg("search complete")
	return res, nil
}

// Lookup returns the upstream body for one listing key unchanged.
func (s *Service) Lookup(ctx context.Context, listingKey string) ([]byte, error) {
	listingKey = strings.TrimSpace(listingKey)
	if listingKey == "" {
		return nil, &odata.ValidationError{Param: "listingKey", Value: listingKey, Reason: "must not be empty"}
	}
	log := zerolog.Ctx(ctx)
	cacheKey := cacheKeyPrefix + listingKey

	if s.Cache != nil {
		if b, ok, err := s.Cache.Get(ctx, cacheKey); err != nil {
			log.Warn().Err(err).Str("listing_key", listingKey).Msg("cache read failed")
		} else if ok {
			return b, nil
		}
	}

	token, err := s.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.Upstream.Query(ctx, token, ddf.Query{
		Filter: odata.ListingKey(listingKey),
		Expand: s.Config.Expand,
		Top:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Records) > 0 {
		s.archive(listingKey, page.Raw)
		if s.Cache != nil {
			if err := s.Cache.Set(ctx, cacheKey, page.Raw, s.Config.CacheTTL); err != nil {
				log.Warn().Err(err).Str("listing_key", listingKey).Msg("cache write failed")
			}
		}
	}
	return page.Raw, nil
}

// pacer returns a limiter private to one search.
func (s *Service) pacer() *rate.Limiter {
	if s.Config.PageRate <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(s.Config.PageRate), 1)
}

func (s *Service) fetch(ctx context.Context, token string, q ddf.Query) (ddf.Page, error) {
	page, err := s.Upstream.Query(ctx, token, q)
	if err != nil {
		return page, err
	}
	s.archive("", page.Raw)
	return page, nil
}

func (s *Service) next(ctx context.Context, token, link string) (ddf.Page, error) {
	page, err := s.Upstream.Next(ctx, token, link)
	if err != nil {
		return page, err
	}
	s.archive("", page.Raw)
	return page, nil
}

func (s *Service) archive(externalID string, raw []byte) {
	if s.Archive == nil || len(raw) == 0 {
		return
	}
	s.Archive.Archive(snapshotEndpoint, externalID, raw)
}
