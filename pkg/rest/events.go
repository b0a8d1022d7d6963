package rest

import (
	"time"

	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/google/uuid"
)

// EventConnector is the source connector name of published change events.
const EventConnector = "restless"

// newTransaction groups the events of one write request.
func newTransaction() *cdc.Transaction {
	return &cdc.Transaction{ID: uuid.NewString()}
}

// changeEvent describes a row change made through the API. before is nil for
// creations and after is nil for deletions.
func (a *API) changeEvent(tx *cdc.Transaction, op cdc.Operation, before, after map[string]any) cdc.Event {
	now := time.Now().UnixMilli()
	source := cdc.NewSourceBuilder(EventConnector, a.collection).
		WithSchema(a.model.Schema).
		WithTable(a.model.Table).
		WithTimestamp(now).
		Build()

	b := cdc.NewEventBuilder().
		WithSource(source).
		WithOperation(op).
		WithTimestamp(now)
	if before != nil {
		b.WithBefore(before)
	}
	if after != nil {
		b.WithAfter(after)
	}
	if tx != nil {
		tx.TotalOrder++
		tx.DataCollectionOrder++
		b.WithTransaction(&cdc.Transaction{
			ID:                  tx.ID,
			TotalOrder:          tx.TotalOrder,
			DataCollectionOrder: tx.DataCollectionOrder,
		})
	}
	return b.Build()
}
