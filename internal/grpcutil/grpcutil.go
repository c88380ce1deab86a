// Package grpcutil provides gRPC utility functions for error translation,
// cancellation classification, and method path construction.
package grpcutil

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TranslateContextError converts context errors to gRPC status errors.
func TranslateContextError(err error) error {
	switch err {
	case context.DeadlineExceeded:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case context.Canceled:
		return status.Error(codes.Canceled, err.Error())
	default:
		return err
	}
}

// IsCancellation reports whether err represents a cancelled RPC, either as a
// context error or a gRPC status. It never inspects error message text -
// transports that only surface free-text cancellation errors must map them
// onto one of these forms (or onto an explicit cancel signal) themselves.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.Canceled {
		return true
	}
	return false
}

// MethodPath builds the full gRPC method name (e.g. "/pkg.Service/Method").
func MethodPath(service, method string) string {
	return fmt.Sprintf("/%s/%s", service, method)
}
