package syncq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ticketnest/core/internal/models"
	"github.com/ticketnest/core/internal/store"
)

// applyFunc merges a successful server response into the durable store.
// One handler exists per operation type; the table is checked for
// exhaustiveness when the manager is constructed.
type applyFunc func(ctx context.Context, op *models.SyncOperation, body []byte) error

// buildApplyTable wires one handler per operation type.
func buildApplyTable(st *store.Store) map[models.OperationType]applyFunc {
	return map[models.OperationType]applyFunc{
		models.OpTypeOrder:      applyOrder(st),
		models.OpTypePayment:    applyPayment(st),
		models.OpTypeTicket:     applyTicket(st),
		models.OpTypeCart:       applyCart(st),
		models.OpTypePreference: applyPreference(st),
	}
}

// orderResponse is the server shape of an order result, with nested tickets.
type orderResponse struct {
	models.Order
	Tickets []models.Ticket `json:"tickets"`
}

// applyOrder populates the order cache and any nested ticket records from an
// order create/update response.
func applyOrder(st *store.Store) applyFunc {
	return func(ctx context.Context, op *models.SyncOperation, body []byte) error {
		if op.Action == models.ActionDelete {
			// Server confirmed removal; nothing to merge.
			return nil
		}

		var resp orderResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("failed to decode order response: %w", err)
		}

		resp.Order.SyncStatus = models.SyncStateSynced
		if err := st.PutOrder(ctx, &resp.Order); err != nil {
			return err
		}
		for i := range resp.Tickets {
			resp.Tickets[i].SyncStatus = models.SyncStateSynced
			if err := st.PutTicket(ctx, &resp.Tickets[i]); err != nil {
				return err
			}
		}
		return nil
	}
}

// applyPayment updates the paid order's cached status.
func applyPayment(st *store.Store) applyFunc {
	return func(ctx context.Context, op *models.SyncOperation, body []byte) error {
		var resp struct {
			OrderID models.UUID `json:"order_id"`
			Status  string      `json:"status"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("failed to decode payment response: %w", err)
		}
		if resp.OrderID == "" {
			return nil
		}

		order, err := st.GetOrder(ctx, resp.OrderID.String())
		if err != nil {
			return err
		}
		order.Status = resp.Status
		order.SyncStatus = models.SyncStateSynced
		return st.PutOrder(ctx, order)
	}
}

// applyTicket overwrites the cached ticket record.
func applyTicket(st *store.Store) applyFunc {
	return func(ctx context.Context, op *models.SyncOperation, body []byte) error {
		if op.Action == models.ActionDelete {
			return nil
		}

		var ticket models.Ticket
		if err := json.Unmarshal(body, &ticket); err != nil {
			return fmt.Errorf("failed to decode ticket response: %w", err)
		}
		ticket.SyncStatus = models.SyncStateSynced
		return st.PutTicket(ctx, &ticket)
	}
}

// applyCart reconciles the cart partition with the server copy.
func applyCart(st *store.Store) applyFunc {
	return func(ctx context.Context, op *models.SyncOperation, body []byte) error {
		if op.Action == models.ActionDelete {
			var item struct {
				ID models.UUID `json:"id"`
			}
			if err := json.Unmarshal(op.Payload, &item); err != nil {
				return fmt.Errorf("failed to decode cart delete payload: %w", err)
			}
			return st.DeleteCartItem(ctx, item.ID.String())
		}

		var item models.CartItem
		if err := json.Unmarshal(body, &item); err != nil {
			return fmt.Errorf("failed to decode cart response: %w", err)
		}
		return st.PutCartItem(ctx, &item)
	}
}

// applyPreference overwrites matching preference keys, last write wins.
func applyPreference(st *store.Store) applyFunc {
	return func(ctx context.Context, op *models.SyncOperation, body []byte) error {
		var pref models.UserPreference
		if err := json.Unmarshal(body, &pref); err != nil {
			return fmt.Errorf("failed to decode preference response: %w", err)
		}
		if pref.Key == "" {
			// Server echoed nothing useful; fall back to the request payload.
			if err := json.Unmarshal(op.Payload, &pref); err != nil {
				return fmt.Errorf("failed to decode preference payload: %w", err)
			}
		}
		return st.PutPreference(ctx, &pref)
	}
}
