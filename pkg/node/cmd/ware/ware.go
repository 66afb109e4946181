/* Copyright 2025 Stall Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ware implements the commands for editing the catalog of wares
package ware

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stallnet/stall/pkg/node/catalog"
	"github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/infra"
	"github.com/stallnet/stall/pkg/node/log"
	"github.com/stallnet/stall/pkg/node/medialib"
	"github.com/stallnet/stall/pkg/prompt"
)

var (
	descriptionFlag string
	schemeFlag      int
	yesFlag         bool
)

// NewCmd returns a new ware command
func NewCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ware",
		Short: "Manage the wares offered by this node",
	}

	cmd.AddCommand(newAddCmd(ctx))
	cmd.AddCommand(newRemoveCmd(ctx))
	cmd.AddCommand(newLsCmd(ctx))

	return cmd
}

var addExample = `
  stall ware add album-7 track-2 --scheme 1 --description "live recording"`

func newAddCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add <mediaId> <fileId>",
		Short:   "Offer a file for sale, or update an existing offering",
		Example: addExample,
		PreRunE: requireTwoArgs,
		RunE:    newAddRun(ctx),
	}

	f := cmd.Flags()
	f.StringVarP(&descriptionFlag, "description", "d", "", "the description shown to buyers")
	f.IntVarP(&schemeFlag, "scheme", "s", 0, "the id of the payee scheme splitting the sale price")

	return cmd
}

func newAddRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		mediaID, fileID := args[0], args[1]

		inserted, err := catalog.AddWare(ctx.DB, medialib.NewSQLLibrary(), mediaID, fileID, descriptionFlag, schemeFlag)
		if err != nil {
			return errors.Wrap(err, "adding the ware")
		}

		if inserted {
			log.Successf("offering %s\n", database.WareUUID(mediaID, fileID))
		} else {
			log.Successf("updated %s\n", database.WareUUID(mediaID, fileID))
		}

		return nil
	}
}

func newRemoveCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <mediaId> <fileId>",
		Short:   "Withdraw an offering",
		Aliases: []string{"remove"},
		PreRunE: requireTwoArgs,
		RunE:    newRemoveRun(ctx),
	}

	f := cmd.Flags()
	f.BoolVarP(&yesFlag, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func newRemoveRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		uuid := database.WareUUID(args[0], args[1])

		if !yesFlag {
			ok, err := prompt.Confirm(os.Stdin, os.Stdout, "remove "+uuid+"?", false)
			if err != nil {
				return errors.Wrap(err, "reading confirmation")
			}
			if !ok {
				log.Info("aborted\n")
				return nil
			}
		}

		if err := catalog.RemoveWare(ctx.DB, uuid); err != nil {
			return errors.Wrap(err, "removing the ware")
		}

		log.Successf("withdrawing %s\n", uuid)

		return nil
	}
}

func newLsCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ls",
		Short:   "List the wares of this node",
		Aliases: []string{"list"},
		RunE:    newLsRun(ctx),
	}

	return cmd
}

func newLsRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		rows, err := ctx.DB.Query("SELECT uuid, description, payee_scheme_id, dirty, updating, deleted, problem_id FROM wares ORDER BY id")
		if err != nil {
			return errors.Wrap(err, "querying wares")
		}
		defer rows.Close()

		count := 0
		for rows.Next() {
			var w database.Ware
			if err := rows.Scan(&w.UUID, &w.Description, &w.PayeeSchemeID, &w.Dirty, &w.Updating, &w.Deleted, &w.ProblemID); err != nil {
				return errors.Wrap(err, "scanning a ware")
			}

			log.Plainf("%s  scheme %d  %s  %s\n", w.UUID, w.PayeeSchemeID, describeState(w.Dirty, w.Updating, w.Deleted, w.ProblemID), w.Description)
			count++
		}
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "iterating wares")
		}

		if count == 0 {
			log.Plain("no wares\n")
		}

		return nil
	}
}

func describeState(dirty, updating, deleted bool, problemID int) string {
	switch {
	case deleted:
		return "[withdrawing]"
	case problemID != 0:
		return "[rejected]"
	case dirty:
		return "[pending]"
	case updating:
		return "[syncing]"
	default:
		return "[listed]"
	}
}

func requireTwoArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return errors.New("Incorrect number of argument")
	}

	return nil
}
