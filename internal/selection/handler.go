package selection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	httperr "github.com/aevon-lab/aevon-rollups/internal/core/errors"
	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/model"
	"github.com/gin-gonic/gin"
)

// selectRequest is the JSON body of the select and explain endpoints.
type selectRequest struct {
	Measures       []string               `json:"measures"`
	Dimensions     []string               `json:"dimensions"`
	Filters        []Filter               `json:"filters"`
	TimeDimensions []timeDimensionRequest `json:"timeDimensions"`
	Options        Options                `json:"options"`
}

type timeDimensionRequest struct {
	Dimension   string   `json:"dimension"`
	Granularity string   `json:"granularity"`
	DateRange   []string `json:"dateRange"`
}

const dateLayout = "2006-01-02"

// toQuery converts the wire form. Plain dates are accepted in date ranges:
// a start date means its first instant, an end date its last.
func (r selectRequest) toQuery() (Query, error) {
	q := Query{
		Measures:   r.Measures,
		Dimensions: r.Dimensions,
		Filters:    r.Filters,
	}
	for _, td := range r.TimeDimensions {
		g, err := granularity.Parse(td.Granularity)
		if err != nil {
			return Query{}, invalidQueryf("%s", err)
		}
		out := TimeDimension{Dimension: td.Dimension, Granularity: g}

		switch len(td.DateRange) {
		case 0:
		case 2:
			start, err := parseBound(td.DateRange[0], false)
			if err != nil {
				return Query{}, err
			}
			end, err := parseBound(td.DateRange[1], true)
			if err != nil {
				return Query{}, err
			}
			out.DateRange = &granularity.DateRange{Start: start, End: end}
		default:
			return Query{}, invalidQueryf("dateRange for %q must have exactly two entries", td.Dimension)
		}
		q.TimeDimensions = append(q.TimeDimensions, out)
	}
	return q, nil
}

func parseBound(raw string, end bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, invalidQueryf("invalid date %q (use RFC3339 or YYYY-MM-DD)", raw)
	}
	if end {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

// DecodeRequest parses a select/explain request body as served over HTTP.
// A malformed body is an ErrInvalidQuery.
func DecodeRequest(data []byte) (Query, Options, error) {
	var req selectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return Query{}, Options{}, invalidQueryf("invalid request body: %s", err)
	}
	q, err := req.toQuery()
	if err != nil {
		return Query{}, Options{}, err
	}
	return q, req.Options, nil
}

// RegisterRoutes registers the selection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/preaggregations/select", s.HandleSelect)
	r.POST("/v1/preaggregations/explain", s.HandleExplain)
	r.GET("/v1/catalog", s.HandleCatalog)
}

// HandleSelect handles POST /v1/preaggregations/select
func (s *Service) HandleSelect(c *gin.Context) {
	s.handle(c, s.Select)
}

// HandleExplain handles POST /v1/preaggregations/explain
func (s *Service) HandleExplain(c *gin.Context) {
	s.handle(c, s.Explain)
}

func (s *Service) handle(c *gin.Context, run func(ctx context.Context, q Query, opts Options) (*Result, error)) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}

	q, err := req.toQuery()
	if err == nil {
		var res *Result
		res, err = run(c.Request.Context(), q, req.Options)
		if err == nil {
			c.JSON(http.StatusOK, res)
			return
		}
	}
	writeError(c, err)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query",
			Details:   err.Error(),
		})
	case errors.Is(err, catalog.ErrNotLoaded):
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpCatalogUnavailableError,
			Message:   "No data model has been published yet",
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to select pre-aggregation",
			Details:   err.Error(),
		})
	}
}

type catalogMeasure struct {
	Name  string               `json:"name"`
	Kind  string               `json:"kind"`
	Class catalog.MeasureClass `json:"class"`
}

type catalogDimension struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type catalogCube struct {
	Name            string               `json:"name"`
	Measures        []catalogMeasure     `json:"measures"`
	Dimensions      []catalogDimension   `json:"dimensions"`
	PreAggregations []*catalog.Candidate `json:"pre_aggregations"`
}

type catalogResponse struct {
	Version     string        `json:"version"`
	Fingerprint string        `json:"fingerprint"`
	BuiltAt     time.Time     `json:"built_at"`
	Cubes       []catalogCube `json:"cubes"`
	Warnings    []string      `json:"warnings,omitempty"`
}

// HandleCatalog handles GET /v1/catalog
func (s *Service) HandleCatalog(c *gin.Context) {
	snap, err := s.snapshots.Current()
	if err != nil {
		writeError(c, err)
		return
	}

	resp := catalogResponse{
		Version:     snap.Version(),
		Fingerprint: snap.Fingerprint(),
		BuiltAt:     snap.BuiltAt(),
	}
	for _, cube := range snap.Cubes() {
		out := catalogCube{
			Name:            cube.Name,
			Measures:        []catalogMeasure{},
			Dimensions:      []catalogDimension{},
			PreAggregations: snap.PreAggregations([]string{cube.Name}),
		}
		for _, m := range cube.Measures {
			cm := catalogMeasure{Name: m.Name, Kind: string(m.Kind)}
			if cl, err := snap.Classify(cube.Name, model.MemberID(cube.Name, m.Name)); err == nil {
				cm.Class = cl.Class
			}
			out.Measures = append(out.Measures, cm)
		}
		for _, d := range cube.Dimensions {
			out.Dimensions = append(out.Dimensions, catalogDimension{Name: d.Name, Type: string(d.Type)})
		}
		resp.Cubes = append(resp.Cubes, out)
	}
	for _, w := range snap.Warnings() {
		resp.Warnings = append(resp.Warnings, w.Error())
	}

	c.JSON(http.StatusOK, resp)
}
