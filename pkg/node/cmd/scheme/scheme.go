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

// Package scheme implements the commands for editing payee schemes
package scheme

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stallnet/stall/pkg/node/catalog"
	"github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/infra"
	"github.com/stallnet/stall/pkg/node/log"
)

var (
	nameFlag   string
	payeeFlags []string
)

// NewCmd returns a new scheme command
func NewCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheme",
		Short: "Manage the payee schemes splitting sale proceeds",
	}

	cmd.AddCommand(newAddCmd(ctx))
	cmd.AddCommand(newEditCmd(ctx))
	cmd.AddCommand(newRemoveCmd(ctx))
	cmd.AddCommand(newLsCmd(ctx))

	return cmd
}

var addExample = `
  * Split proceeds 70/30. Shares are parts per myriad.
  stall scheme add --name "band split" -p alice=7000 -p bob=3000`

func newAddCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Create a new payee scheme",
		Example: addExample,
		RunE:    newAddRun(ctx),
	}

	addPayeeFlags(cmd)

	return cmd
}

func newAddRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		payees, err := parsePayees(payeeFlags)
		if err != nil {
			return err
		}

		id, err := catalog.AddPayeeScheme(ctx.DB, nameFlag, payees)
		if err != nil {
			return errors.Wrap(err, "adding the payee scheme")
		}

		log.Successf("created payee scheme %d\n", id)

		return nil
	}
}

func newEditCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "edit <id>",
		Short:   "Replace the name and payees of a scheme",
		PreRunE: requireIDArg,
		RunE:    newEditRun(ctx),
	}

	addPayeeFlags(cmd)

	return cmd
}

func newEditRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrapf(err, "parsing scheme id %s", args[0])
		}

		payees, err := parsePayees(payeeFlags)
		if err != nil {
			return err
		}

		if err := catalog.UpdatePayeeScheme(ctx.DB, id, nameFlag, payees); err != nil {
			return errors.Wrap(err, "updating the payee scheme")
		}

		log.Successf("updated payee scheme %d\n", id)

		return nil
	}
}

func newRemoveCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Short:   "Remove a payee scheme",
		Aliases: []string{"remove"},
		PreRunE: requireIDArg,
		RunE:    newRemoveRun(ctx),
	}

	return cmd
}

func newRemoveRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrapf(err, "parsing scheme id %s", args[0])
		}

		if err := catalog.RemovePayeeScheme(ctx.DB, id); err != nil {
			return errors.Wrap(err, "removing the payee scheme")
		}

		log.Successf("removing payee scheme %d\n", id)

		return nil
	}
}

func newLsCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ls",
		Short:   "List the payee schemes",
		Aliases: []string{"list"},
		RunE:    newLsRun(ctx),
	}

	return cmd
}

func newLsRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		rows, err := ctx.DB.Query("SELECT id FROM payee_schemes WHERE deleted = 0 ORDER BY id")
		if err != nil {
			return errors.Wrap(err, "querying payee schemes")
		}
		defer rows.Close()

		var ids []int
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return errors.Wrap(err, "scanning a scheme id")
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "iterating payee schemes")
		}

		if len(ids) == 0 {
			log.Plain("no payee schemes\n")
			return nil
		}

		for _, id := range ids {
			scheme, err := database.GetPayeeScheme(ctx.DB, id)
			if err != nil {
				return errors.Wrapf(err, "reading scheme %d", id)
			}

			parts := make([]string, 0, len(scheme.Payees))
			for _, p := range scheme.Payees {
				parts = append(parts, p.Name+"="+strconv.Itoa(p.Share))
			}

			log.Plainf("%d  %s  %s\n", scheme.ID, scheme.Name, strings.Join(parts, " "))
		}

		return nil
	}
}

func addPayeeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&nameFlag, "name", "n", "", "the name of the scheme")
	f.StringArrayVarP(&payeeFlags, "payee", "p", nil, "a payee as name=share, repeatable; shares are parts per myriad")
}

// parsePayees parses repeated name=share flags into payee rows
func parsePayees(specs []string) ([]database.Payee, error) {
	ret := make([]database.Payee, 0, len(specs))

	for _, spec := range specs {
		idx := strings.LastIndex(spec, "=")
		if idx <= 0 {
			return nil, errors.Errorf("invalid payee %q, expected name=share", spec)
		}

		share, err := strconv.Atoi(spec[idx+1:])
		if err != nil {
			return nil, errors.Wrapf(err, "parsing share of payee %q", spec)
		}

		ret = append(ret, database.Payee{Name: spec[:idx], Share: share})
	}

	return ret, nil
}

func requireIDArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("Incorrect number of argument")
	}

	return nil
}
