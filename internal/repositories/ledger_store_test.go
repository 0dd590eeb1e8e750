package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"ticket-ledger/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	organizer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000d4")

	storeNow = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	errAbort = errors.New("abort")
)

func newEvent(org common.Address) *models.Event {
	return &models.Event{
		Organizer:      org,
		Name:           "Harbour Sessions",
		Description:    "ipfs://bafy",
		Date:           storeNow.Add(72 * time.Hour),
		Price:          models.MustParseAmount("0.1eth"),
		MaxTickets:     2,
		IsActive:       true,
		MaxResellPrice: models.MustParseAmount("0.15eth"),
		CreatedAt:      storeNow,
	}
}

func createEvent(t *testing.T, store LedgerStore, org common.Address) *models.Event {
	t.Helper()
	ev := newEvent(org)
	require.NoError(t, store.Atomic(context.Background(), func(tx LedgerTx) error {
		return tx.CreateEvent(context.Background(), ev)
	}))
	return ev
}

func createTicket(t *testing.T, store LedgerStore, eventID uint64, owner common.Address) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		EventID:       eventID,
		Owner:         owner,
		PurchasePrice: models.MustParseAmount("0.1eth"),
		PurchaseTime:  storeNow,
	}
	require.NoError(t, store.Atomic(context.Background(), func(tx LedgerTx) error {
		return tx.CreateTicket(context.Background(), ticket)
	}))
	return ticket
}

// runStoreContract exercises behaviour every LedgerStore must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) LedgerStore) {
	t.Run("dense ids", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := createEvent(t, store, organizer)
		second := createEvent(t, store, bob)
		assert.Equal(t, uint64(0), first.ID)
		assert.Equal(t, uint64(1), second.ID)

		count, err := store.CountEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), count)

		t0 := createTicket(t, store, second.ID, alice)
		t1 := createTicket(t, store, first.ID, alice)
		assert.Equal(t, uint64(0), t0.ID)
		assert.Equal(t, uint64(1), t1.ID)

		got, err := store.GetEvent(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "Harbour Sessions", got.Name)
		assert.Equal(t, organizer, got.Organizer)
		assert.Equal(t, 0, got.Price.Cmp(models.MustParseAmount("0.1eth")))
		assert.True(t, got.Date.Equal(first.Date))
	})

	t.Run("not found", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.GetEvent(ctx, 0)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = store.GetTicket(ctx, 7)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = store.GetApproved(ctx, 7)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("ids beyond int64 are not found", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		createEvent(t, store, organizer)
		huge := uint64(math.MaxUint64)

		_, err := store.GetEvent(ctx, huge)
		assert.ErrorIs(t, err, models.ErrEventNotFound)
		_, err = store.GetTicket(ctx, 1<<63)
		assert.ErrorIs(t, err, models.ErrTicketNotFound)
		_, err = store.GetApproved(ctx, huge)
		assert.ErrorIs(t, err, models.ErrTicketNotFound)

		ok, err := store.IsValidator(ctx, huge, alice)
		require.NoError(t, err)
		assert.False(t, ok)

		logs, err := store.ListLogs(ctx, LedgerLogFilters{EventID: &huge})
		require.NoError(t, err)
		assert.Empty(t, logs)

		err = store.Atomic(ctx, func(tx LedgerTx) error {
			assert.ErrorIs(t, tx.UpdateEvent(ctx, &models.Event{ID: huge}), models.ErrEventNotFound)
			assert.ErrorIs(t, tx.UpdateTicket(ctx, &models.Ticket{ID: huge, Owner: alice}), models.ErrTicketNotFound)
			assert.ErrorIs(t, tx.SetApproved(ctx, huge, bob), models.ErrTicketNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rollback discards every write", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ev := createEvent(t, store, organizer)
		ticket := createTicket(t, store, ev.ID, alice)

		err := store.Atomic(ctx, func(tx LedgerTx) error {
			require.NoError(t, tx.CreateEvent(ctx, newEvent(bob)))
			require.NoError(t, tx.CreateTicket(ctx, &models.Ticket{EventID: ev.ID, Owner: bob, PurchaseTime: storeNow}))

			moved := *ticket
			moved.Owner = carol
			moved.Used = true
			require.NoError(t, tx.UpdateTicket(ctx, &moved))

			sold := *ev
			sold.TicketsSold = 2
			require.NoError(t, tx.UpdateEvent(ctx, &sold))

			require.NoError(t, tx.SetValidator(ctx, ev.ID, bob, true))
			require.NoError(t, tx.SetApproved(ctx, ticket.ID, bob))
			require.NoError(t, tx.SetApprovalForAll(ctx, alice, bob, true))
			_, err := tx.AppendLog(ctx, &models.LedgerLogCreateRequest{Kind: models.LogTicketUsed, Actor: bob, CreatedAt: storeNow})
			require.NoError(t, err)
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		count, err := store.CountEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), count)

		got, err := store.GetTicket(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, alice, got.Owner)
		assert.False(t, got.Used)

		_, err = store.GetTicket(ctx, ticket.ID+1)
		assert.ErrorIs(t, err, models.ErrNotFound)

		gotEvent, err := store.GetEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), gotEvent.TicketsSold)

		for owner, want := range map[common.Address]uint64{alice: 1, bob: 0, carol: 0} {
			balance, err := store.BalanceOf(ctx, owner)
			require.NoError(t, err)
			assert.Equal(t, want, balance, owner.Hex())
		}

		isValidator, err := store.IsValidator(ctx, ev.ID, bob)
		require.NoError(t, err)
		assert.False(t, isValidator)

		approved, err := store.GetApproved(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ZeroAddress, approved)

		operator, err := store.IsApprovedForAll(ctx, alice, bob)
		require.NoError(t, err)
		assert.False(t, operator)

		logs, err := store.ListLogs(ctx, LedgerLogFilters{})
		require.NoError(t, err)
		assert.Empty(t, logs)

		// ids freed by the rollback are reused
		next := createEvent(t, store, bob)
		assert.Equal(t, uint64(1), next.ID)
	})

	t.Run("balances follow owners", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ev := createEvent(t, store, organizer)
		first := createTicket(t, store, ev.ID, alice)
		createTicket(t, store, ev.ID, alice)

		moved := *first
		moved.Owner = bob
		require.NoError(t, store.Atomic(ctx, func(tx LedgerTx) error {
			return tx.UpdateTicket(ctx, &moved)
		}))

		aliceBalance, err := store.BalanceOf(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), aliceBalance)

		bobTickets, err := store.TicketsOf(ctx, bob)
		require.NoError(t, err)
		require.Len(t, bobTickets, 1)
		assert.Equal(t, first.ID, bobTickets[0].ID)

		aliceTickets, err := store.TicketsOf(ctx, alice)
		require.NoError(t, err)
		require.Len(t, aliceTickets, 1)
		assert.Equal(t, uint64(1), aliceTickets[0].ID)

		none, err := store.TicketsOf(ctx, carol)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("grants and approvals", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		ev := createEvent(t, store, organizer)
		ticket := createTicket(t, store, ev.ID, alice)

		require.NoError(t, store.Atomic(ctx, func(tx LedgerTx) error {
			if err := tx.SetValidator(ctx, ev.ID, carol, true); err != nil {
				return err
			}
			if err := tx.SetApproved(ctx, ticket.ID, bob); err != nil {
				return err
			}
			return tx.SetApprovalForAll(ctx, alice, carol, true)
		}))

		isValidator, err := store.IsValidator(ctx, ev.ID, carol)
		require.NoError(t, err)
		assert.True(t, isValidator)
		otherEvent, err := store.IsValidator(ctx, ev.ID+1, carol)
		require.NoError(t, err)
		assert.False(t, otherEvent)

		approved, err := store.GetApproved(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, bob, approved)

		operator, err := store.IsApprovedForAll(ctx, alice, carol)
		require.NoError(t, err)
		assert.True(t, operator)
		reversed, err := store.IsApprovedForAll(ctx, carol, alice)
		require.NoError(t, err)
		assert.False(t, reversed)

		require.NoError(t, store.Atomic(ctx, func(tx LedgerTx) error {
			if err := tx.SetValidator(ctx, ev.ID, carol, false); err != nil {
				return err
			}
			if err := tx.SetApproved(ctx, ticket.ID, models.ZeroAddress); err != nil {
				return err
			}
			return tx.SetApprovalForAll(ctx, alice, carol, false)
		}))

		isValidator, err = store.IsValidator(ctx, ev.ID, carol)
		require.NoError(t, err)
		assert.False(t, isValidator)
		approved, err = store.GetApproved(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ZeroAddress, approved)
		operator, err = store.IsApprovedForAll(ctx, alice, carol)
		require.NoError(t, err)
		assert.False(t, operator)
	})

	t.Run("list and paginate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for _, org := range []common.Address{organizer, bob, organizer, organizer} {
			createEvent(t, store, org)
		}

		all, err := store.ListEvents(ctx, EventSearchFilters{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		mine, err := store.ListEvents(ctx, EventSearchFilters{Organizer: &organizer, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, uint64(2), mine[0].ID)
		assert.Equal(t, uint64(3), mine[1].ID)

		past, err := store.ListEvents(ctx, EventSearchFilters{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, past)
	})

	t.Run("activity log", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		details := json.RawMessage(`{"price":"100"}`)
		first := createEvent(t, store, alice)
		createEvent(t, store, organizer)
		for i := 0; i < 3; i++ {
			createTicket(t, store, first.ID, alice)
		}

		require.NoError(t, store.Atomic(ctx, func(tx LedgerTx) error {
			for tokenID := uint64(0); tokenID < 3; tokenID++ {
				_, err := tx.AppendLog(ctx, &models.LedgerLogCreateRequest{
					Kind:      models.LogTicketMinted,
					EventID:   models.Uint64Ptr(0),
					TokenID:   models.Uint64Ptr(tokenID),
					Actor:     alice,
					Subject:   models.AddressPtr(alice),
					Details:   details,
					CreatedAt: storeNow,
				})
				if err != nil {
					return err
				}
			}
			_, err := tx.AppendLog(ctx, &models.LedgerLogCreateRequest{
				Kind:      models.LogEventCreated,
				EventID:   models.Uint64Ptr(1),
				Actor:     organizer,
				CreatedAt: storeNow,
			})
			return err
		}))

		all, err := store.ListLogs(ctx, LedgerLogFilters{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Less(t, all[0].ID, all[3].ID)
		assert.Equal(t, models.LogEventCreated, all[3].Kind)
		assert.Nil(t, all[3].TokenID)
		assert.Nil(t, all[3].Subject)

		byEvent, err := store.ListLogs(ctx, LedgerLogFilters{EventID: models.Uint64Ptr(0), Limit: 2})
		require.NoError(t, err)
		require.Len(t, byEvent, 2)
		assert.Equal(t, uint64(0), *byEvent[0].TokenID)
		assert.JSONEq(t, string(details), string(byEvent[0].Details))

		byToken, err := store.ListLogs(ctx, LedgerLogFilters{TokenID: models.Uint64Ptr(2)})
		require.NoError(t, err)
		require.Len(t, byToken, 1)
		assert.Equal(t, alice, *byToken[0].Subject)
	})
}
