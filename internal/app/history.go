package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/ledger"
	"github.com/ggonzalez94/chatswap/internal/out"
)

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var (
		owner       string
		status      string
		limit       int
		sessionID   string
		selectArg   string
		resultsOnly bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished swaps from the local ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status = strings.ToLower(strings.TrimSpace(status))
			if status != "" && status != ledger.StatusSettled && status != ledger.StatusFailed {
				return apperr.New(apperr.CodeUsage, fmt.Sprintf("--status must be %s or %s", ledger.StatusSettled, ledger.StatusFailed))
			}
			if limit < 0 {
				return apperr.New(apperr.CodeUsage, "--limit must not be negative")
			}

			store, err := ledger.OpenStore(s.settings.LedgerPath, s.settings.LedgerLockPath)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "open ledger", err)
			}
			defer store.Close()

			opts := out.Options{Fields: out.ParseFields(selectArg), ResultsOnly: resultsOnly}
			if sessionID != "" {
				entry, err := store.Get(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				return s.emitSuccess(entry, opts)
			}
			entries, err := store.List(cmd.Context(), ledger.Filter{OwnerID: owner, Status: status, Limit: limit})
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "list ledger", err)
			}
			return s.emitSuccess(entries, opts)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only swaps of this chat owner (e.g. tg:42)")
	cmd.Flags().StringVar(&status, "status", "", "settled or failed")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to list")
	cmd.Flags().StringVar(&sessionID, "session", "", "Show a single session")
	cmd.Flags().StringVar(&selectArg, "select", "", "Select fields from data (comma-separated)")
	cmd.Flags().BoolVar(&resultsOnly, "results-only", false, "Output only data payload")
	return cmd
}
