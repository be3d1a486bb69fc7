package exec

import (
	"context"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/journal"
	"main/internal/schema"
)

// RecoverOrders replays the journal and rebuilds every order record that
// was non-terminal when the process stopped. The result seeds the state
// machine before the first resynchronization pass.
func RecoverOrders(ctx context.Context, cfg journal.PlaybackConfig) ([]OrderRecord, error) {
	pb, err := journal.NewPlayback(cfg)
	if err != nil {
		return nil, err
	}

	records := make(map[string]*OrderRecord)
	planQty := make(map[string]schema.OrderPlan)

	err = pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		switch header.Type {
		case schema.EventPlan:
			var plan schema.OrderPlan
			if err := sonic.Unmarshal(payload, &plan); err != nil {
				return errors.Wrap(err, "decode plan")
			}
			planQty[plan.PlanID] = plan
		case schema.EventOrderState:
			var change schema.OrderStateChange
			if err := sonic.Unmarshal(payload, &change); err != nil {
				return errors.Wrap(err, "decode order state")
			}
			record, ok := records[change.OrderID]
			if !ok {
				record = &OrderRecord{
					OrderID: change.OrderID,
					PlanID:  change.PlanID,
					Symbol:  change.Symbol,
					Side:    change.Side,
				}
				if plan, ok := planQty[change.PlanID]; ok {
					record.Quantity = plan.Quantity
				}
				record.SubmittedAt = change.Timestamp
				records[change.OrderID] = record
			}
			if change.ExchangeOrderID != "" {
				record.ExchangeOrderID = change.ExchangeOrderID
			}
			record.State = change.State
			record.LastUpdate = change.Timestamp
		case schema.EventFill:
			var fill schema.Fill
			if err := sonic.Unmarshal(payload, &fill); err != nil {
				return errors.Wrap(err, "decode fill")
			}
			record, ok := records[fill.OrderID]
			if !ok {
				return nil // fill for an order outside the retained journal
			}
			duplicate := false
			for _, seen := range record.Fills {
				if seen.FillID != "" && seen.FillID == fill.FillID {
					duplicate = true
					break
				}
			}
			if duplicate {
				return nil
			}
			record.Fills = append(record.Fills, fill)
			record.FilledQuantity = record.FilledQuantity.Add(fill.Quantity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]OrderRecord, 0)
	for _, record := range records {
		if record.State.Terminal() {
			continue
		}
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}
