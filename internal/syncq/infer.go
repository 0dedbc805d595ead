package syncq

import (
	"strings"

	"github.com/ticketnest/core/internal/models"
)

// InferType guesses the operation type from endpoint substrings. This is a
// migration shim for intercepted requests that carry no explicit tag; new
// callers should pass the type to Enqueue themselves.
func InferType(endpoint string) models.OperationType {
	switch {
	case strings.Contains(endpoint, "/payments"):
		return models.OpTypePayment
	case strings.Contains(endpoint, "/orders"):
		return models.OpTypeOrder
	case strings.Contains(endpoint, "/tickets"):
		return models.OpTypeTicket
	case strings.Contains(endpoint, "/cart"):
		return models.OpTypeCart
	default:
		return models.OpTypePreference
	}
}

// InferPriority maps an operation to its drain tier: payments and order
// creation always go first.
func InferPriority(t models.OperationType, action models.OperationAction) models.Priority {
	switch {
	case t == models.OpTypePayment:
		return models.PriorityHigh
	case t == models.OpTypeOrder && action == models.ActionCreate:
		return models.PriorityHigh
	case t == models.OpTypeOrder || t == models.OpTypeTicket:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// inferAction maps an HTTP method to the mutation verb.
func inferAction(method string) models.OperationAction {
	switch method {
	case "DELETE":
		return models.ActionDelete
	case "PUT", "PATCH":
		return models.ActionUpdate
	default:
		return models.ActionCreate
	}
}
