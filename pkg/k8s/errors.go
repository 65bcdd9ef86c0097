package k8s

import (
	"errors"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ErrorType classifies a failed API call
type ErrorType string

const (
	ErrorTimeout     ErrorType = "timeout"
	ErrorAuth        ErrorType = "auth"
	ErrorNetwork     ErrorType = "network"
	ErrorCertificate ErrorType = "certificate"
	ErrorNotFound    ErrorType = "not_found"
	ErrorUnknown     ErrorType = "unknown"
)

// APIError is a classified failure talking to one cluster
type APIError struct {
	Type    ErrorType
	Cluster string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error on cluster %s: %v", e.Type, e.Cluster, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError wraps err with its classification. A nil err returns nil.
func NewAPIError(cluster string, err error) error {
	if err == nil {
		return nil
	}
	var existing *APIError
	if errors.As(err, &existing) {
		return err
	}
	return &APIError{Type: ClassifyError(err), Cluster: cluster, Err: err}
}

// ClassifyError determines the error type, preferring API status codes over message heuristics
func ClassifyError(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorUnknown
	case apierrors.IsNotFound(err):
		return ErrorNotFound
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return ErrorAuth
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err):
		return ErrorTimeout
	}
	return classifyMessage(err.Error())
}

// classifyMessage determines the error type from an error message
func classifyMessage(errMsg string) ErrorType {
	lowerMsg := strings.ToLower(errMsg)

	if strings.Contains(lowerMsg, "timeout") ||
		strings.Contains(lowerMsg, "deadline exceeded") ||
		strings.Contains(lowerMsg, "context deadline") ||
		strings.Contains(lowerMsg, "i/o timeout") {
		return ErrorTimeout
	}

	if strings.Contains(lowerMsg, "401") ||
		strings.Contains(lowerMsg, "403") ||
		strings.Contains(lowerMsg, "unauthorized") ||
		strings.Contains(lowerMsg, "forbidden") ||
		strings.Contains(lowerMsg, "authentication") ||
		strings.Contains(lowerMsg, "invalid token") ||
		strings.Contains(lowerMsg, "token expired") {
		return ErrorAuth
	}

	if strings.Contains(lowerMsg, "connection refused") ||
		strings.Contains(lowerMsg, "no route to host") ||
		strings.Contains(lowerMsg, "network unreachable") ||
		strings.Contains(lowerMsg, "dial tcp") ||
		strings.Contains(lowerMsg, "no such host") ||
		strings.Contains(lowerMsg, "lookup") {
		return ErrorNetwork
	}

	if strings.Contains(lowerMsg, "x509") ||
		strings.Contains(lowerMsg, "tls") ||
		strings.Contains(lowerMsg, "certificate") ||
		strings.Contains(lowerMsg, "ssl") {
		return ErrorCertificate
	}

	return ErrorUnknown
}
