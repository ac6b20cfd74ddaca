// Package catalogv1 defines the CatalogService RPC contract. Messages are
// protobuf well-known types so the service needs no generated code: entries
// travel as google.protobuf.Struct, hashes as google.protobuf.StringValue.
package catalogv1

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"dardanelles/internal/gateway/repository/catalog"
)

const CatalogServiceName = "dardanelles.v1.CatalogService"

const (
	CatalogServiceListProcedure   = "/" + CatalogServiceName + "/List"
	CatalogServiceLookupProcedure = "/" + CatalogServiceName + "/Lookup"
	CatalogServiceStatusProcedure = "/" + CatalogServiceName + "/Status"
)

// ErrorCodeHeader carries the application error code on failed calls.
const ErrorCodeHeader = "Dardanelles-Error-Code"

type CatalogServiceHandler interface {
	List(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.ListValue], error)
	Lookup(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error)
	Status(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[wrapperspb.StringValue], error)
}

// NewCatalogServiceHandler returns the mount path and handler for svc.
func NewCatalogServiceHandler(svc CatalogServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	list := connect.NewUnaryHandler(CatalogServiceListProcedure, svc.List, opts...)
	lookup := connect.NewUnaryHandler(CatalogServiceLookupProcedure, svc.Lookup, opts...)
	status := connect.NewUnaryHandler(CatalogServiceStatusProcedure, svc.Status, opts...)
	return "/" + CatalogServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case CatalogServiceListProcedure:
			list.ServeHTTP(w, r)
		case CatalogServiceLookupProcedure:
			lookup.ServeHTTP(w, r)
		case CatalogServiceStatusProcedure:
			status.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

type CatalogServiceClient struct {
	list   *connect.Client[emptypb.Empty, structpb.ListValue]
	lookup *connect.Client[wrapperspb.StringValue, structpb.Struct]
	status *connect.Client[wrapperspb.StringValue, wrapperspb.StringValue]
}

func NewCatalogServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *CatalogServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &CatalogServiceClient{
		list:   connect.NewClient[emptypb.Empty, structpb.ListValue](httpClient, baseURL+CatalogServiceListProcedure, opts...),
		lookup: connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+CatalogServiceLookupProcedure, opts...),
		status: connect.NewClient[wrapperspb.StringValue, wrapperspb.StringValue](httpClient, baseURL+CatalogServiceStatusProcedure, opts...),
	}
}

func (c *CatalogServiceClient) List(ctx context.Context) ([]catalog.Entry, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	values := resp.Msg.GetValues()
	out := make([]catalog.Entry, 0, len(values))
	for _, v := range values {
		e, err := EntryFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *CatalogServiceClient) Lookup(ctx context.Context, sha256 string) (catalog.Entry, error) {
	resp, err := c.lookup.CallUnary(ctx, connect.NewRequest(wrapperspb.String(sha256)))
	if err != nil {
		return catalog.Entry{}, err
	}
	return EntryFromStruct(resp.Msg)
}

func (c *CatalogServiceClient) Status(ctx context.Context, sha256 string) (string, error) {
	resp, err := c.status.CallUnary(ctx, connect.NewRequest(wrapperspb.String(sha256)))
	if err != nil {
		return "", err
	}
	return resp.Msg.GetValue(), nil
}

// EntryToStruct encodes e. Times are RFC 3339 strings; a never-accessed
// entry has no accessed_at field.
func EntryToStruct(e catalog.Entry) (*structpb.Struct, error) {
	fields := map[string]any{
		"filename":   e.Filename,
		"database":   e.Database,
		"sha256":     e.SHA256,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"downloads":  e.Downloads,
	}
	if !e.AccessedAt.IsZero() {
		fields["accessed_at"] = e.AccessedAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

func EntryFromStruct(s *structpb.Struct) (catalog.Entry, error) {
	if s == nil {
		return catalog.Entry{}, fmt.Errorf("catalog entry is empty")
	}
	f := s.GetFields()
	e := catalog.Entry{
		Filename:  f["filename"].GetStringValue(),
		Database:  f["database"].GetStringValue(),
		SHA256:    f["sha256"].GetStringValue(),
		Downloads: int64(f["downloads"].GetNumberValue()),
	}
	var err error
	if raw := f["created_at"].GetStringValue(); raw != "" {
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return catalog.Entry{}, fmt.Errorf("created_at: %w", err)
		}
	}
	if raw := f["accessed_at"].GetStringValue(); raw != "" {
		if e.AccessedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return catalog.Entry{}, fmt.Errorf("accessed_at: %w", err)
		}
	}
	return e, nil
}
