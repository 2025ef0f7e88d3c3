package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fieldops/internal/model"
)

var errBadQuery = errors.New("bad query")

func parseTime(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, errBadQuery
	}
	return &t, nil
}

func parseLimit(q url.Values) (int, error) {
	v := q.Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errBadQuery
	}
	return n, nil
}

func parseListFilter(r *http.Request) (model.ListFilter, error) {
	q := r.URL.Query()
	since, err := parseTime(q, "since")
	if err != nil {
		return model.ListFilter{}, err
	}
	limit, err := parseLimit(q)
	if err != nil {
		return model.ListFilter{}, err
	}
	return model.ListFilter{Since: since, Limit: limit}, nil
}

func parseCountFilter(r *http.Request) (model.CountFilter, error) {
	q := r.URL.Query()
	var (
		f   model.CountFilter
		err error
	)
	if f.Since, err = parseTime(q, "since"); err != nil {
		return f, err
	}
	if f.Until, err = parseTime(q, "until"); err != nil {
		return f, err
	}
	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			return f, errBadQuery
		}
		f.Open = &open
	}
	if v := model.SaleType(q.Get("sale_type")); v != "" {
		if v != model.SaleB2B && v != model.SaleB2C {
			return f, errBadQuery
		}
		f.SaleType = v
	}
	switch q.Get("scope") {
	case "", "me":
	case "all":
		f.All = true
	default:
		return f, errBadQuery
	}
	return f, nil
}
