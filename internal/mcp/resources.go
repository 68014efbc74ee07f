package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RepositoriesURI is the resource listing configured repositories.
const RepositoriesURI = "vecsync://repositories"

// registerResources registers the repositories resource.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "repositories",
			URI:         RepositoriesURI,
			Description: "Configured repositories with watch state and index counts",
			MIMEType:    "application/json",
		},
		s.handleReadRepositories,
	)
}

// handleReadRepositories renders the list_repositories output as JSON.
func (s *Server) handleReadRepositories(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(s.listRepositories(ctx), "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      RepositoriesURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
