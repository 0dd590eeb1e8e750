package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"ticket-ledger/internal/models"
	"ticket-ledger/internal/repositories"

	"github.com/spf13/cobra"
)

var (
	eventsOrganizer string
	eventsLimit     int
	activityEvent   int64
	activityToken   int64
	activityLimit   int
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Aliases: []string{"check-events"},
	Short:   "List events and their sales",
	RunE: func(cmd *cobra.Command, args []string) error {
		var filters repositories.EventSearchFilters
		filters.Limit = eventsLimit
		if eventsOrganizer != "" {
			organizer, err := models.ParseAddress(eventsOrganizer)
			if err != nil {
				return err
			}
			filters.Organizer = &organizer
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := connect(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		store := repositories.NewPostgresLedgerRepository(db.DB)
		total, err := store.CountEvents(cmd.Context())
		if err != nil {
			return err
		}
		events, err := store.ListEvents(cmd.Context(), filters)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Total Events: %d\n", total)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDATE\tPRICE (ETH)\tSOLD\tACTIVE\tLOCKED")
		for _, e := range events {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%t\t%t\n",
				e.ID, e.Name, e.Date.UTC().Format(time.RFC3339), e.Price.Ether(),
				e.TicketsSold, e.MaxTickets, e.IsActive, e.TransferLocked)
		}
		return tw.Flush()
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Print the ledger activity log as JSON lines, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filters := repositories.LedgerLogFilters{Limit: activityLimit}
		if activityEvent >= 0 {
			id := uint64(activityEvent)
			filters.EventID = &id
		}
		if activityToken >= 0 {
			id := uint64(activityToken)
			filters.TokenID = &id
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := connect(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		logs, err := repositories.NewPostgresLedgerRepository(db.DB).ListLogs(cmd.Context(), filters)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, entry := range logs {
			if err := enc.Encode(entry); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsOrganizer, "organizer", "", "only events organized by this address")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum number of events")

	activityCmd.Flags().Int64Var(&activityEvent, "event", -1, "only entries for this event id")
	activityCmd.Flags().Int64Var(&activityToken, "token", -1, "only entries for this token id")
	activityCmd.Flags().IntVar(&activityLimit, "limit", 100, "maximum number of entries")

	rootCmd.AddCommand(eventsCmd, activityCmd)
}
