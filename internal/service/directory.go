package service

import (
	"context"
	"net/http"

	"github.com/cortexlake/cdl/internal/api"
)

const directoryPath = "/directory-sync-service/v1"

// Directory stat counters.
const (
	StatDirectoryAttributes = "directory_attributes"
	StatDirectoryCount      = "directory_count"
	StatDirectoryDomains    = "directory_domains"
	StatDirectoryQuery      = "directory_query"
)

// Directory wraps the Directory Sync Service.
type Directory struct {
	base
}

// NewDirectory creates a Directory Sync Service wrapper sharing client.
func NewDirectory(client *api.Client) *Directory {
	return &Directory{base: newBase(client, "directory",
		StatDirectoryAttributes, StatDirectoryCount, StatDirectoryDomains, StatDirectoryQuery)}
}

// Attributes returns the custom attribute mapping of the instance.
func (d *Directory) Attributes(ctx context.Context, opts ...CallOption) (*api.Response, error) {
	return d.call(ctx, StatDirectoryAttributes, api.Request{
		Method:   http.MethodGet,
		Endpoint: directoryPath + "/attributes",
	}, opts)
}

// Domains lists the domains the instance reads entries from.
func (d *Directory) Domains(ctx context.Context, opts ...CallOption) (*api.Response, error) {
	return d.call(ctx, StatDirectoryDomains, api.Request{
		Method:   http.MethodGet,
		Endpoint: directoryPath + "/domains",
	}, opts)
}

// Count returns the number of entries of objectClass in a single domain.
func (d *Directory) Count(ctx context.Context, objectClass string, opts ...CallOption) (*api.Response, error) {
	class, err := segment("objectClass", objectClass)
	if err != nil {
		return nil, err
	}
	return d.call(ctx, StatDirectoryCount, api.Request{
		Method:   http.MethodGet,
		Endpoint: joinPath(directoryPath, class, "count"),
	}, opts)
}

// Query retrieves entries of objectClass matching body.
func (d *Directory) Query(ctx context.Context, objectClass string, body any, opts ...CallOption) (*api.Response, error) {
	class, err := segment("objectClass", objectClass)
	if err != nil {
		return nil, err
	}
	return d.call(ctx, StatDirectoryQuery, api.Request{
		Method:   http.MethodPost,
		Endpoint: joinPath(directoryPath, class),
		Body:     body,
	}, opts)
}
