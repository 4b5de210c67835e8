// Package mcpserver exposes the object store and sync engine as MCP tools
// over stdio, so LLM clients can read, write and link objects.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/objectservice"
	"github.com/starford/loom/internal/store"
	"github.com/starford/loom/internal/syncengine"
)

// ContractURI is the resource URI of the document format contract.
const ContractURI = "loom://document-format"

// Server wraps the MCP server with loom tools.
type Server struct {
	mcp *server.MCPServer
	svc *objectservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *objectservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Loom",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_objects",
		mcp.WithDescription("Substring search through object titles and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchObjects)

	s.mcp.AddTool(mcp.NewTool("list_objects",
		mcp.WithDescription("List objects, optionally filtered by type or tag."),
		mcp.WithString("type", mcp.Description("Object type, e.g. Meeting or Person")),
		mcp.WithString("tag", mcp.Description("Tag to filter by")),
	), s.listObjects)

	s.mcp.AddTool(mcp.NewTool("read_object",
		mcp.WithDescription("Read an object with its properties, content and backlinks as JSON."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Object id")),
	), s.readObject)

	s.mcp.AddTool(mcp.NewTool("save_object",
		mcp.WithDescription("Create or update an object. The object is saved locally and pushed "+
			"to the remote document store. Content is an HTML fragment; read the contract via "+
			"get_document_contract or the "+ContractURI+" resource first."),
		mcp.WithString("id", mcp.Description("Object id; omit to create a new object")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Object title")),
		mcp.WithString("type", mcp.Description("Object type (default Note)")),
		mcp.WithString("content", mcp.Description("HTML content fragment")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("if_match", mcp.Description("Checksum from read_object; rejects stale updates")),
	), s.saveObject)

	s.mcp.AddTool(mcp.NewTool("delete_object",
		mcp.WithDescription("Delete an object locally and from the remote store."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Object id")),
	), s.deleteObject)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all objects that mention the given object, with context snippets."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the mentioned object")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Return the relationship graph of all objects as nodes and edges."),
	), s.getGraph)

	s.mcp.AddTool(mcp.NewTool("sync_now",
		mcp.WithDescription("Pull remote changes into the local store."),
	), s.syncNow)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the content format contract. "+
			"Call this before creating or updating objects to ensure correct structure."),
	), s.getDocumentContract)

	s.mcp.AddTool(mcp.NewTool("upload_asset",
		mcp.WithDescription("Store an image from an http(s) URL or a base64 data URI. "+
			"Returns an imageTag to embed in object content; the asset is uploaded "+
			"to the remote store when the object is saved."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI")),
		mcp.WithString("filename", mcp.Description("Optional file name")),
	), s.uploadAsset)

	s.mcp.AddResource(
		mcp.NewResource(ContractURI, "Document Format Contract",
			mcp.WithResourceDescription("Content format and mention conventions for loom objects."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func (s *Server) searchObjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, intArg(req, "limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no results"), nil
	}
	return jsonResult(results)
}

func (s *Server) listObjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, _, err := s.svc.ListObjects(ctx, store.ObjectFilter{
		Type: req.GetString("type", ""),
		Tag:  req.GetString("tag", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%s\t%s\t%s", it.ID, it.Type, it.Title)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	obj, err := s.svc.GetObject(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(obj)
}

type saveResult struct {
	ID        string `json:"id"`
	Checksum  string `json:"checksum"`
	Synced    bool   `json:"synced"`
	SyncError string `json:"syncError,omitempty"`
}

func (s *Server) saveObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := objectservice.ObjectInput{
		ID:      req.GetString("id", ""),
		Title:   title,
		Type:    req.GetString("type", ""),
		Content: req.GetString("content", ""),
		Tags:    splitTags(req.GetString("tags", "")),
	}

	var detail *objectservice.ObjectDetail
	if in.ID == "" {
		detail, err = s.svc.CreateObject(ctx, in)
	} else if _, getErr := s.svc.GetObject(ctx, in.ID); errors.Is(getErr, apperr.ErrNotFound) {
		detail, err = s.svc.CreateObject(ctx, in)
	} else {
		detail, err = s.svc.UpdateObject(ctx, in.ID, in, req.GetString("if_match", ""))
	}

	res := saveResult{}
	var degraded *syncengine.DegradedError
	switch {
	case err == nil:
	case errors.As(err, &degraded) && detail != nil:
		res.SyncError = degraded.Err.Error()
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError("checksum mismatch: re-read the object and retry"), nil
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}
	res.ID = detail.ID
	res.Checksum = detail.Checksum
	res.Synced = detail.Remote != nil
	return jsonResult(res)
}

func splitTags(raw string) []string {
	var tags []string
	for t := range strings.SplitSeq(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (s *Server) deleteObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteObject(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	groups, err := s.svc.Backlinks(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(groups) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "%s (%s)\n", g.SourceTitle, g.SourceID)
		for _, m := range g.Mentions {
			fmt.Fprintf(&b, "  - %s\n", m.Context)
		}
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) getGraph(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := s.svc.Graph(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(g)
}

func (s *Server) syncNow(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.svc.Sync(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) getDocumentContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentContract), nil
}

func (s *Server) readContractResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ContractURI,
			MIMEType: "text/markdown",
			Text:     DocumentContract,
		},
	}, nil
}
