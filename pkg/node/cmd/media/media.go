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

// Package media implements the commands for the local media library
package media

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/infra"
	"github.com/stallnet/stall/pkg/node/log"
	"github.com/stallnet/stall/pkg/node/medialib"
)

var (
	nameFlag     string
	sizeFlag     int64
	checksumFlag string
)

// NewCmd returns a new media command
func NewCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Manage the local media library",
	}

	cmd.AddCommand(newAddCmd(ctx))

	return cmd
}

var addExample = `
  stall media add album-7 track-2 --name "02 - encore.flac" --size 48210344 --checksum sha256:9f2c...`

func newAddCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "add <mediaId> <fileId>",
		Short:   "Register a file in the media library",
		Example: addExample,
		PreRunE: preRunAdd,
		RunE:    newAddRun(ctx),
	}

	f := cmd.Flags()
	f.StringVarP(&nameFlag, "name", "n", "", "the file name shown to buyers")
	f.Int64Var(&sizeFlag, "size", 0, "the file size in bytes")
	f.StringVar(&checksumFlag, "checksum", "", "the checksum of the file content")

	return cmd
}

func preRunAdd(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return errors.New("Incorrect number of argument")
	}

	return nil
}

func newAddRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		info := medialib.FileInfo{
			MediaID:  args[0],
			FileID:   args[1],
			Name:     nameFlag,
			Size:     sizeFlag,
			Checksum: checksumFlag,
		}

		if err := medialib.AddFile(ctx.DB, info); err != nil {
			return errors.Wrap(err, "registering the media file")
		}

		log.Successf("registered %s/%s\n", info.MediaID, info.FileID)

		return nil
	}
}
