package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
)

const maxPerPage = 100

// fetchPaged fetches every page of a collection endpoint and returns the
// records in page order. Pages are requested sequentially at 100 records
// each until a short page arrives or continueFn, given the just-fetched
// page, returns false. continueFn exists only for page counting; list
// endpoints sort by last update rather than by any filter criterion, so
// stopping early on content would silently drop eligible records.
//
// With cacheEnabled the complete accumulated result is looked up under one
// key before fetching and stored under that key after a full fetch. Partial
// results from interrupted fetches are never cached.
func (a *Analyzer) fetchPaged(
	ctx context.Context,
	path string,
	params map[string]string,
	cacheEnabled bool,
	continueFn func(page []json.RawMessage) bool,
) ([]json.RawMessage, error) {
	key := cacheKey("", path, params)

	if cacheEnabled {
		if data, ok := a.cache.get(key); ok {
			var records []json.RawMessage
			if err := json.Unmarshal(data, &records); err != nil {
				a.logger.Warn("ignoring undecodable cache entry", "path", path, "error", err)
			} else {
				a.logger.Debug("cache hit", "path", path, "records", len(records))
				return records, nil
			}
		}
	}

	merged := make(map[string]string, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	merged["per_page"] = strconv.Itoa(maxPerPage)

	var records []json.RawMessage
	for page := 1; ; page++ {
		merged["page"] = strconv.Itoa(page)

		var pageRecords []json.RawMessage
		if err := a.github.Get(ctx, path+encodeQuery(merged), &pageRecords); err != nil {
			return nil, fmt.Errorf("fetching page %d of %s: %w", page, path, err)
		}

		records = append(records, pageRecords...)

		if continueFn != nil && !continueFn(pageRecords) {
			a.logger.Debug("pagination stopped by predicate", "path", path, "page", page)
			break
		}
		if len(pageRecords) < maxPerPage {
			break
		}
	}

	if cacheEnabled {
		data, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("encoding records for cache: %w", err)
		}
		a.cache.put(key, data)
	}

	a.logger.Debug("fetched all pages", "path", path, "records", len(records))
	return records, nil
}

// encodeQuery builds a query string from params in canonical key order.
func encodeQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return "?" + values.Encode()
}

// decodeRecords unmarshals raw list records into typed values, skipping
// malformed entries rather than failing the whole fetch.
func decodeRecords[T any](logger *slog.Logger, records []json.RawMessage, what string) []*T {
	out := make([]*T, 0, len(records))
	for _, raw := range records {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			logger.Warn("skipping malformed record", "kind", what, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}
