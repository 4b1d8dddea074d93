// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes gitmarks tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/gitmarks/internal/models"
	"github.com/starford/gitmarks/internal/session"
)

// Server wraps the MCP server with gitmarks tools.
type Server struct {
	mcp *server.MCPServer
	svc *session.Service
}

// New creates a new MCP server with all gitmarks tools registered.
func New(svc *session.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"gitmarks",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_entries",
		mcp.WithDescription("List notes, documents and links, optionally filtered by terms and kind."),
		mcp.WithString("query", mcp.Description("Filter terms matched against titles, labels and bodies")),
		mcp.WithString("kind", mcp.Description("Only this kind"), mcp.Enum("note", "document", "link")),
	), s.listEntries)

	s.mcp.AddTool(mcp.NewTool("read_entry",
		mcp.WithDescription("Read an entry by key. Notes include their Markdown text."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Entry key, e.g. alice/notes:journal/Today.md or link:https://go.dev")),
	), s.readEntry)

	s.mcp.AddTool(mcp.NewTool("search_entries",
		mcp.WithDescription("Full-text search through entry titles, labels and note bodies."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchEntries)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Stage a new Markdown note. Nothing is pushed until commit_changes is called. "+
			"Read the contract first via the get_entry_contract tool or the gitmarks://entry-format resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title, used as the file name")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithString("location", mcp.Description("Folder inside the repository (empty for the root)")),
		mcp.WithString("repo", mcp.Description("Repository id owner/name (default repository when empty)")),
		mcp.WithArray("labels", mcp.Description("Labels"), mcp.WithStringItems()),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("add_link",
		mcp.WithDescription("Stage a standalone bookmark in a repository's link store."),
		mcp.WithString("target", mcp.Required(), mcp.Description("URL")),
		mcp.WithString("title", mcp.Description("Title (defaults to the URL)")),
		mcp.WithString("repo", mcp.Description("Repository id owner/name (default repository when empty)")),
		mcp.WithArray("labels", mcp.Description("Labels"), mcp.WithStringItems()),
	), s.addLink)

	s.mcp.AddTool(mcp.NewTool("upload_document",
		mcp.WithDescription("Stage a document downloaded from an http(s) URL or decoded from a base64 data URI."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data URI")),
		mcp.WithString("filename", mcp.Description("File name (derived from the URL when empty)")),
		mcp.WithString("location", mcp.Description("Folder inside the repository")),
		mcp.WithString("repo", mcp.Description("Repository id owner/name (default repository when empty)")),
	), s.uploadDocument)

	s.mcp.AddTool(mcp.NewTool("staged_changes",
		mcp.WithDescription("List the file operations staged for the next commit, per repository."),
	), s.stagedChanges)

	s.mcp.AddTool(mcp.NewTool("commit_changes",
		mcp.WithDescription("Commit every staged change, one commit per repository."),
		mcp.WithString("message", mcp.Description("Commit message")),
	), s.commitChanges)

	s.mcp.AddTool(mcp.NewTool("reload",
		mcp.WithDescription("Fetch all repositories again. Staged but uncommitted edits are discarded."),
	), s.reload)

	s.mcp.AddTool(mcp.NewTool("get_entry_contract",
		mcp.WithDescription("Returns how gitmarks stores notes, labels and links. "+
			"Call this before creating notes to ensure correct structure."),
	), s.getEntryContract)

	// Resource: entry format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Entry Format Contract",
			mcp.WithResourceDescription("How notes, documents and links are stored in repositories."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readEntryFormatResource,
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

type entrySummary struct {
	Key    string   `json:"key"`
	Kind   string   `json:"kind"`
	Title  string   `json:"title"`
	Labels []string `json:"labels,omitempty"`
}

type entryContent struct {
	entrySummary
	Repo         string   `json:"repo,omitempty"`
	Path         string   `json:"path,omitempty"`
	Text         string   `json:"text,omitempty"`
	Links        []string `json:"links,omitempty"`
	Target       string   `json:"target,omitempty"`
	ReferencedBy []string `json:"referencedBy,omitempty"`
}

type stagedOp struct {
	Repo string `json:"repo"`
	Op   string `json:"op"`
}

func summary(e *models.Entry) entrySummary {
	return entrySummary{Key: e.Key, Kind: e.Kind().String(), Title: e.Title, Labels: e.Labels}
}

func content(e *models.Entry) entryContent {
	out := entryContent{entrySummary: summary(e)}
	if f, ok := e.File(); ok {
		out.Repo = f.Repo.ID()
		out.Path = e.Path()
	}
	models.Match(e,
		func(n *models.NoteContent) struct{} {
			out.Text = n.Text
			out.Links = n.Links
			return struct{}{}
		},
		func(*models.DocumentContent) struct{} { return struct{}{} },
		func(l *models.LinkContent) struct{} {
			out.Target = l.Target
			for _, ref := range l.ReferencedBy {
				out.ReferencedBy = append(out.ReferencedBy, ref.Key)
			}
			return struct{}{}
		},
	)
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// repoArg returns the "repo" argument or the default repository id.
func (s *Server) repoArg(req mcp.CallToolRequest) (string, error) {
	if id := req.GetString("repo", ""); id != "" {
		return id, nil
	}
	repo, err := s.svc.DefaultRepo()
	if err != nil {
		return "", err
	}
	return repo.ID(), nil
}

func (s *Server) listEntries(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var kind *models.Kind
	if k := req.GetString("kind", ""); k != "" {
		parsed, ok := models.ParseKind(k)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown kind: %s", k)), nil
		}
		kind = &parsed
	}
	out := []entrySummary{}
	for _, e := range s.svc.Entries(req.GetString("query", "")) {
		if kind != nil && e.Kind() != *kind {
			continue
		}
		out = append(out, summary(e))
	}
	return jsonResult(out)
}

func (s *Server) readEntry(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.EntryByKey(key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", key)), nil
	}
	return jsonResult(content(e))
}

func (s *Server) searchEntries(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) createNote(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	repo, err := s.repoArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.CreateNote(session.NewNote{
		Repo:     repo,
		Location: req.GetString("location", ""),
		Title:    title,
		Text:     text,
		Labels:   req.GetStringSlice("labels", nil),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("staged: %s", e.Key)), nil
}

func (s *Server) addLink(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	repo, err := s.repoArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.AddLink(session.NewLink{
		Repo:   repo,
		Title:  req.GetString("title", ""),
		Target: target,
		Labels: req.GetStringSlice("labels", nil),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("staged: %s", e.Key)), nil
}

func (s *Server) stagedChanges(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	staged := s.svc.Staged()
	ids := make([]string, 0, len(staged))
	for id := range staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := []stagedOp{}
	for _, id := range ids {
		for _, op := range staged[id] {
			out = append(out, stagedOp{Repo: id, Op: op.String()})
		}
	}
	if len(out) == 0 {
		return mcp.NewToolResultText("nothing staged"), nil
	}
	return jsonResult(out)
}

func (s *Server) commitChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, err := s.svc.Commit(ctx, req.GetString("message", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("nothing to commit"), nil
	}
	res, err := jsonResult(results)
	for _, r := range results {
		if !r.OK() {
			res.IsError = true
		}
	}
	return res, err
}

func (s *Server) reload(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.svc.Reload(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) getEntryContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(EntryFormatContract), nil
}

func (s *Server) readEntryFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     EntryFormatContract,
		},
	}, nil
}
