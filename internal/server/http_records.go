package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/gpuctl/internal/model"
	"github.com/alfredjeanlab/gpuctl/internal/records"
	"github.com/alfredjeanlab/gpuctl/internal/watch"
)

// maxBodyBytes caps request bodies on record routes.
const maxBodyBytes = 1 << 20

// reservedParams are list query parameters that are never exact filters.
var reservedParams = map[string]bool{
	"page": true, "perPage": true, "search": true, "sort": true,
	"filter": true, "watch": true, "heartbeat": true,
}

// resolveKind maps the {plural} path segment to a kind, writing 404 when
// the collection does not exist.
func resolveKind(w http.ResponseWriter, r *http.Request) (model.KindInfo, bool) {
	info, ok := model.LookupPlural(r.PathValue("plural"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown collection %q", r.PathValue("plural")))
	}
	return info, ok
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, inputError("request body too large")
	}
	return body, nil
}

// handleCreate handles POST /v1/{plural}.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	info, ok := resolveKind(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	rec, err := model.Decode(info.Kind, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err = s.repo.Create(r.Context(), rec)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.PublicView(rec))
}

// handleGet handles GET /v1/{plural}/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, ok := resolveKind(w, r)
	if !ok {
		return
	}
	rec, err := s.repo.Get(r.Context(), info.Kind, r.PathValue("id"))
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.PublicView(rec))
}

// handleUpdate handles PUT and PATCH /v1/{plural}/{id}. Both apply the body
// as a merge patch: keys absent from the body keep their stored value.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	info, ok := resolveKind(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	var patch map[string]any
	if err := json.Unmarshal(body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.repo.Patch(r.Context(), info.Kind, r.PathValue("id"), patch)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.PublicView(rec))
}

// handleDelete handles DELETE /v1/{plural}/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	info, ok := resolveKind(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.repo.DeleteByID(r.Context(), info.Kind, id); err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	if info.Kind == model.KindWorker {
		s.Presence.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// listQuery is the parsed query string of GET /v1/{plural}.
type listQuery struct {
	filter    model.ListFilter
	predicate string
	watch     bool
}

func parseListQuery(info model.KindInfo, r *http.Request) (listQuery, error) {
	q := r.URL.Query()
	lq := listQuery{
		filter: model.ListFilter{
			Fields: make(map[string]string),
			Sort:   q.Get("sort"),
		},
		predicate: q.Get("filter"),
	}

	var err error
	if lq.filter.Page, err = intParam(q.Get("page"), 1); err != nil {
		return lq, inputError("page: " + err.Error())
	}
	if lq.filter.PerPage, err = intParam(q.Get("perPage"), model.DefaultPerPage); err != nil {
		return lq, inputError("perPage: " + err.Error())
	}
	if lq.filter.PerPage == 0 {
		return lq, inputError("perPage: expected a positive integer")
	}
	if v := q.Get("watch"); v != "" {
		if lq.watch, err = strconv.ParseBool(v); err != nil {
			return lq, inputError("watch: expected a boolean")
		}
	}

	if search := q.Get("search"); search != "" {
		lq.filter.FuzzyFields = make(map[string]string, len(info.Searchable))
		for _, field := range info.Searchable {
			lq.filter.FuzzyFields[field] = search
		}
	}
	for key, vals := range q {
		if reservedParams[key] {
			continue
		}
		if !info.IsFilterable(key) {
			return lq, inputError(fmt.Sprintf("unknown filter %q for %s", key, info.Plural))
		}
		lq.filter.Fields[key] = vals[0]
	}
	return lq, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("expected a non-negative integer")
	}
	return n, nil
}

// handleList handles GET /v1/{plural}. With watch=true the response is a
// stream; see handleWatch.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	info, ok := resolveKind(w, r)
	if !ok {
		return
	}
	lq, err := parseListQuery(info, r)
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}
	if lq.watch {
		s.handleWatch(w, r, info, lq)
		return
	}

	var page *records.Page
	if lq.predicate == "" {
		page, err = s.repo.List(r.Context(), info.Kind, lq.filter)
	} else {
		page, err = s.listWithPredicate(r, info, lq)
	}
	if err != nil {
		s.writeRecordError(w, r, err)
		return
	}

	items := make([]any, len(page.Items))
	for i, rec := range page.Items {
		items[i] = model.PublicView(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": page.Pagination,
	})
}

// listWithPredicate evaluates a CEL filter over every match of the SQL
// filters and paginates the survivors in memory.
func (s *Server) listWithPredicate(r *http.Request, info model.KindInfo, lq listQuery) (*records.Page, error) {
	pred, err := watch.CompilePredicate(lq.predicate)
	if err != nil {
		return nil, err
	}
	unpaged := lq.filter
	unpaged.Page, unpaged.PerPage = 1, 0
	all, err := s.repo.List(r.Context(), info.Kind, unpaged)
	if err != nil {
		return nil, err
	}

	matched := make([]model.Record, 0, len(all.Items))
	for _, rec := range all.Items {
		if pred.Match(rec) {
			matched = append(matched, rec)
		}
	}

	page := &records.Page{
		Items:      matched,
		Pagination: model.NewPagination(lq.filter.Page, lq.filter.PerPage, len(matched)),
	}
	start := min(lq.filter.Offset(), len(matched))
	end := min(start+lq.filter.PerPage, len(matched))
	page.Items = matched[start:end]
	return page, nil
}

// watchRequest converts a parsed list query into a watch request.
func watchRequest(info model.KindInfo, lq listQuery, r *http.Request) (watch.Request, error) {
	req := watch.Request{
		Kind:        info.Kind,
		Fields:      lq.filter.Fields,
		FuzzyFields: lq.filter.FuzzyFields,
		Filter:      lq.predicate,
	}
	if v := r.URL.Query().Get("heartbeat"); v != "" {
		secs, err := strconv.ParseFloat(strings.TrimSuffix(v, "s"), 64)
		if err != nil || secs <= 0 {
			return req, inputError("heartbeat: expected a positive number of seconds")
		}
		req.Heartbeat = secondsToDuration(secs)
	}
	return req, nil
}
