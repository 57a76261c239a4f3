package client

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/go-querystring/query"
	"github.com/minus-twelve/roster/types"
)

func collection(kind types.RecordKind) string {
	if kind == types.KindProject {
		return "/projects"
	}
	return "/employees"
}

func (c *Client) ListRecords(ctx context.Context, params types.ListParams) ([]types.Record, types.Pagination, error) {
	q, err := query.Values(params)
	if err != nil {
		return nil, types.Pagination{}, err
	}

	env, err := c.do(ctx, http.MethodGet, collection(params.Kind), q, nil)
	if err != nil {
		return nil, types.Pagination{}, err
	}
	var records []types.Record
	if err := decode(env, &records); err != nil {
		return nil, types.Pagination{}, err
	}
	var page types.Pagination
	if env.Pagination != nil {
		page = *env.Pagination
	}
	return records, page, nil
}

func (c *Client) SearchRecords(ctx context.Context, kind types.RecordKind, term string, filters types.ListParams) ([]types.Record, types.Pagination, error) {
	filters.Kind = kind
	filters.Search = term
	return c.ListRecords(ctx, filters)
}

func (c *Client) GetRecord(ctx context.Context, kind types.RecordKind, id int64) (types.Record, error) {
	var rec types.Record
	env, err := c.do(ctx, http.MethodGet, collection(kind)+"/"+strconv.FormatInt(id, 10), nil, nil)
	if err != nil {
		return rec, err
	}
	if err := decode(env, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (c *Client) CreateRecord(ctx context.Context, rec types.Record) (types.Record, error) {
	var out types.Record
	env, err := c.do(ctx, http.MethodPost, collection(rec.Kind), nil, rec)
	if err != nil {
		return out, err
	}
	if err := decode(env, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) UpdateRecord(ctx context.Context, rec types.Record) (types.Record, error) {
	var out types.Record
	env, err := c.do(ctx, http.MethodPut, collection(rec.Kind)+"/"+strconv.FormatInt(rec.ID, 10), nil, rec)
	if err != nil {
		return out, err
	}
	if err := decode(env, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) DeleteRecord(ctx context.Context, kind types.RecordKind, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, collection(kind)+"/"+strconv.FormatInt(id, 10), nil, nil)
	return err
}

func (c *Client) Stats(ctx context.Context, kind types.RecordKind) (types.Stats, error) {
	var stats types.Stats
	env, err := c.do(ctx, http.MethodGet, collection(kind)+"/stats", nil, nil)
	if err != nil {
		return stats, err
	}
	if err := decode(env, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}
