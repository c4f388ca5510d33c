package planwatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/planwatch/idgen"
	"github.com/hazyhaar/planwatch/kit"
	"github.com/hazyhaar/planwatch/planwatch/internal/store"
)

// RegisterMCP registers the planwatch tools on an MCP server. Destructive
// store operations are CLI-only and have no tool.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerHarvestTool(srv)
	s.registerKeyValTool(srv)
	s.registerPostcodeTool(srv)
	s.registerDetailsTool(srv)
	s.registerCountTool(srv)
	s.registerReadTool(srv)
	s.registerGeocodeTool(srv)
	s.registerDedupTool(srv)
	s.registerCouncilsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }

func integer(desc string) map[string]any { return map[string]any{"type": "integer", "description": desc} }

// decodeArgs unmarshals the tool arguments into a fresh T and tags the call
// with a request id.
func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	id := idgen.RequestID()
	return &kit.MCPDecodeResult{
		Request:   &r,
		EnrichCtx: func(ctx context.Context) context.Context { return kit.WithRequestID(ctx, id) },
	}, nil
}

func (s *Service) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(kit.Logging(s.logger, tool.Name), kit.Recover())
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

var errMissingArgs = errors.New("council and application_id are required")

// --- harvest ---

type harvestReq struct {
	Council       string `json:"council"`
	ApplicationID string `json:"application_id"`
}

func (s *Service) registerHarvestTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_harvest",
		Description: "Find a planning application by reference and store every public comment it lists.",
		InputSchema: inputSchema(map[string]any{
			"council":        str("Council name, e.g. newham"),
			"application_id": str("Application reference, e.g. 24/01234/FUL"),
		}, []string{"council", "application_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*harvestReq)
		if r.Council == "" || r.ApplicationID == "" {
			return nil, errMissingArgs
		}
		return s.HarvestApplicationComments(ctx, r.Council, r.ApplicationID)
	}

	s.register(srv, tool, endpoint, decodeArgs[harvestReq])
}

// --- keyval ---

type keyValReq struct {
	Council string `json:"council"`
	KeyVal  string `json:"key_val"`
}

func (s *Service) registerKeyValTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_harvest_keyval",
		Description: "Store every public comment of the application with the given portal keyVal.",
		InputSchema: inputSchema(map[string]any{
			"council": str("Council name"),
			"key_val": str("Portal internal application key (keyVal URL parameter)"),
		}, []string{"council", "key_val"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*keyValReq)
		if r.Council == "" || r.KeyVal == "" {
			return nil, errors.New("council and key_val are required")
		}
		return s.HarvestKeyVal(ctx, r.Council, r.KeyVal)
	}

	s.register(srv, tool, endpoint, decodeArgs[keyValReq])
}

// --- postcode ---

type postcodeReq struct {
	Council  string `json:"council"`
	Postcode string `json:"postcode"`
}

func (s *Service) registerPostcodeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_postcode",
		Description: "List the URLs of every planning application matching a postcode, across all result pages.",
		InputSchema: inputSchema(map[string]any{
			"council":  str("Council name"),
			"postcode": str("Postcode, e.g. E15 4HT"),
		}, []string{"council", "postcode"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*postcodeReq)
		if r.Council == "" || r.Postcode == "" {
			return nil, errors.New("council and postcode are required")
		}
		links, err := s.HarvestPostcodeApplications(ctx, r.Council, r.Postcode)
		if err != nil {
			return nil, err
		}
		return map[string]any{"urls": links, "count": len(links)}, nil
	}

	s.register(srv, tool, endpoint, decodeArgs[postcodeReq])
}

// --- details ---

type detailsReq struct {
	Council string   `json:"council"`
	URLs    []string `json:"urls"`
}

func (s *Service) registerDetailsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_details",
		Description: "Scrape reference, dates, address, proposal, decision and type of each application URL.",
		InputSchema: inputSchema(map[string]any{
			"council": str("Council name"),
			"urls": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Application summary URLs",
			},
		}, []string{"council", "urls"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*detailsReq)
		if r.Council == "" || len(r.URLs) == 0 {
			return nil, errors.New("council and urls are required")
		}
		return s.ScrapeApplicationDetails(ctx, r.Council, r.URLs)
	}

	s.register(srv, tool, endpoint, decodeArgs[detailsReq])
}

// --- count ---

func (s *Service) registerCountTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_count",
		Description: "Count the stored comments of one application.",
		InputSchema: inputSchema(map[string]any{
			"council":        str("Council name"),
			"application_id": str("Application reference"),
		}, []string{"council", "application_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*harvestReq)
		if r.Council == "" || r.ApplicationID == "" {
			return nil, errMissingArgs
		}
		n, err := s.store.CountFor(ctx, r.Council, r.ApplicationID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"council": r.Council, "application_id": r.ApplicationID, "count": n}, nil
	}

	s.register(srv, tool, endpoint, decodeArgs[harvestReq])
}

// --- read ---

func (s *Service) registerReadTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_read",
		Description: "Read stored comments, optionally filtered by council, application or missing coordinates.",
		InputSchema: inputSchema(map[string]any{
			"council":             str("Council name"),
			"application_id":      str("Application reference"),
			"missing_coordinates": map[string]any{"type": "boolean", "description": "Only rows not yet geocoded"},
			"limit":               integer("Maximum number of rows (default 100)"),
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		f := *req.(*store.Filter)
		if f.Limit <= 0 {
			f.Limit = 100
		}
		return s.store.Read(ctx, f)
	}

	s.register(srv, tool, endpoint, decodeArgs[store.Filter])
}

// --- geocode ---

type geocodeReq struct {
	Council string `json:"council"`
	Offset  int    `json:"offset"`
}

func (s *Service) registerGeocodeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_geocode",
		Description: "Geocode stored comment addresses that have no coordinates yet. Only results inside the configured bounding box are written.",
		InputSchema: inputSchema(map[string]any{
			"council": str("Council name; empty for all councils"),
			"offset":  integer("Number of pending rows to skip"),
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*geocodeReq)
		if r.Offset < 0 {
			return nil, errors.New("offset must not be negative")
		}
		return s.ResolveCoordinates(ctx, r.Council, r.Offset)
	}

	s.register(srv, tool, endpoint, decodeArgs[geocodeReq])
}

// --- dedup ---

type emptyReq struct{}

func (s *Service) registerDedupTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_dedup",
		Description: "Remove stored comments whose content duplicates an earlier row.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := s.store.DeduplicateByContent(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"removed": n}, nil
	}

	s.register(srv, tool, endpoint, decodeArgs[emptyReq])
}

// --- councils ---

func (s *Service) registerCouncilsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "planwatch_councils",
		Description: "List the councils with a configured portal.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		out := make([]map[string]string, 0, len(s.cfg.Councils))
		for _, name := range s.cfg.CouncilNames() {
			out = append(out, map[string]string{"council": name, "url": s.cfg.Councils[name]})
		}
		return out, nil
	}

	s.register(srv, tool, endpoint, decodeArgs[emptyReq])
}
