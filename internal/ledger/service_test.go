package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/escrow-backend/pkg/enums"
)

func TestRecordWritesOncePerKind(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	ref := "sq_refund_1"
	input := RecordInput{
		PurchaseID:     uuid.New(),
		Kind:           enums.LedgerEntryRefund,
		AmountCents:    2450,
		Currency:       "EUR",
		GatewayRef:     &ref,
		IdempotencyKey: "purchase:x:cancel-refund",
		Metadata:       json.RawMessage(`{"source":"cancel"}`),
	}

	first, created, err := svc.Record(context.Background(), conn, input)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(2450), first.AmountCents)

	input.AmountCents = 9999
	second, created, err := svc.Record(context.Background(), conn, input)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(2450), second.AmountCents)

	entries, err := svc.List(context.Background(), input.PurchaseID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRecordKeepsKindsApart(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	purchaseID := uuid.New()
	for _, kind := range []enums.LedgerEntryKind{enums.LedgerEntryCapture, enums.LedgerEntryRelease} {
		_, created, err := svc.Record(context.Background(), conn, RecordInput{
			PurchaseID: purchaseID, Kind: kind, AmountCents: 1000, Currency: "EUR",
		})
		require.NoError(t, err)
		require.True(t, created)
	}

	entries, err := svc.List(context.Background(), purchaseID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRecordValidation(t *testing.T) {
	svc, err := NewService(NewRepository(dbtest.Open(t)))
	require.NoError(t, err)

	cases := []RecordInput{
		{Kind: enums.LedgerEntryCapture, Currency: "EUR"},
		{PurchaseID: uuid.New(), Kind: "bogus", Currency: "EUR"},
		{PurchaseID: uuid.New(), Kind: enums.LedgerEntryCapture, AmountCents: -1, Currency: "EUR"},
		{PurchaseID: uuid.New(), Kind: enums.LedgerEntryCapture},
	}
	for _, input := range cases {
		_, _, err := svc.Record(context.Background(), nil, input)
		require.Error(t, err)
	}
}

func TestFindReturnsNilWhenMissing(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	entry, err := svc.Find(context.Background(), conn, uuid.New(), enums.LedgerEntryRefund)
	require.NoError(t, err)
	require.Nil(t, entry)
}
