package rpc

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"dardanelles/internal/apperr"
	"dardanelles/internal/catalogv1"
	"dardanelles/internal/gateway/service/transfer"
)

// Compile-time interface check.
var _ catalogv1.CatalogServiceHandler = (*CatalogHandler)(nil)

type CatalogHandler struct {
	svc *transfer.Service
}

func NewCatalogHandler(svc *transfer.Service) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

func (h *CatalogHandler) List(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.ListValue], error) {
	entries, err := h.svc.Catalog(ctx)
	if err != nil {
		return nil, toCatalogError(err)
	}
	values := make([]*structpb.Value, 0, len(entries))
	for _, e := range entries {
		s, err := catalogv1.EntryToStruct(e)
		if err != nil {
			return nil, toCatalogError(err)
		}
		values = append(values, structpb.NewStructValue(s))
	}
	return connect.NewResponse(&structpb.ListValue{Values: values}), nil
}

func (h *CatalogHandler) Lookup(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	entry, err := h.svc.Lookup(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, toCatalogError(err)
	}
	s, err := catalogv1.EntryToStruct(entry)
	if err != nil {
		return nil, toCatalogError(err)
	}
	return connect.NewResponse(s), nil
}

func (h *CatalogHandler) Status(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[wrapperspb.StringValue], error) {
	state, err := h.svc.Status(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, toCatalogError(err)
	}
	return connect.NewResponse(wrapperspb.String(state.String())), nil
}

func toCatalogError(err error) error {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return connect.NewError(connect.CodeInternal, fmt.Errorf("catalog service failed: %w", err))
	}
	code := connect.CodeInternal
	switch appErr.Kind {
	case apperr.KindInputValidation:
		code = connect.CodeInvalidArgument
	case apperr.KindNotFound:
		code = connect.CodeNotFound
	case apperr.KindConflict:
		code = connect.CodeAlreadyExists
	case apperr.KindIntegrityViolation:
		code = connect.CodeDataLoss
	case apperr.KindStructuralFormat:
		code = connect.CodeFailedPrecondition
	case apperr.KindUnauthorized:
		code = connect.CodeUnauthenticated
	case apperr.KindUnreachable:
		code = connect.CodeUnavailable
	}
	cerr := connect.NewError(code, err)
	cerr.Meta().Set(catalogv1.ErrorCodeHeader, appErr.Code)
	return cerr
}
