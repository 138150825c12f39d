package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	"github.com/yourorg/listings-proxy/ddf"
	"github.com/yourorg/listings-proxy/internal/listings"
	"github.com/yourorg/listings-proxy/internal/odata"
)

const (
	msgAuthFailed     = "Failed to authenticate with the listings API"
	msgUpstreamFailed = "Failed to fetch data from the listings API"
)

type Properties interface {
	Search(ctx context.Context, req listings.SearchRequest) (listings.Result, error)
	Lookup(ctx context.Context, listingKey string) ([]byte, error)
}

type PropertiesDeps struct {
	Service Properties
}

type searchResponse struct {
	Value      []json.RawMessage `json:"value"`
	TotalCount *int              `json:"totalCount"`
	Count      int               `json:"count"`
	Page       *int              `json:"page"`
}

func RegisterProperties(r chi.Router, d PropertiesDeps) {
	r.Get("/properties", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if key := q.Get("listingKey"); key != "" {
			lookup(w, req, d, key)
			return
		}

		sr, err := listings.RequestFromQuery(q)
		if err != nil {
			writeError(w, req, err)
			return
		}
		res, err := d.Service.Search(req.Context(), sr)
		if err != nil {
			writeError(w, req, err)
			return
		}

		out := searchResponse{Value: res.Records, TotalCount: res.TotalCount, Count: len(res.Records)}
		if out.Value == nil {
			out.Value = []json.RawMessage{}
		}
		if res.Page > 0 {
			page := res.Page
			out.Page = &page
		}
		render.Status(req, http.StatusOK)
		render.JSON(w, req, out)
	})

	r.Get("/properties/{listingKey}", func(w http.ResponseWriter, req *http.Request) {
		lookup(w, req, d, chi.URLParam(req, "listingKey"))
	})
}

// lookup relays the upstream body without re-encoding it.
func lookup(w http.ResponseWriter, req *http.Request, d PropertiesDeps, key string) {
	body, err := d.Service.Lookup(req.Context(), key)
	if err != nil {
		writeError(w, req, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, req *http.Request, err error) {
	status, msg := http.StatusInternalServerError, msgUpstreamFailed
	var (
		verr *odata.ValidationError
		aerr *ddf.AuthenticationError
	)
	switch {
	case errors.As(err, &verr):
		status, msg = http.StatusBadRequest, verr.Error()
	case errors.As(err, &aerr):
		msg = msgAuthFailed
	}

	ev := zerolog.Ctx(req.Context()).Error()
	if status < http.StatusInternalServerError {
		ev = zerolog.Ctx(req.Context()).Warn()
	}
	ev.Err(err).Int("status", status).Msg("request failed")

	writeMessage(w, req, status, msg)
}
