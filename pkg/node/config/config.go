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

package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/context"
)

// Config holds stall configuration
type Config struct {
	APIEndpoint string `yaml:"apiEndpoint"`
	SellerID    string `yaml:"sellerId"`
	PublicURL   string `yaml:"publicUrl"`
}

// GetPath returns the path to the stall config file
func GetPath(ctx context.StallCtx) string {
	return fmt.Sprintf("%s/%s/%s", ctx.Paths.Config, consts.StallDirName, consts.ConfigFilename)
}

// Read reads the config file
func Read(ctx context.StallCtx) (Config, error) {
	var ret Config

	b, err := os.ReadFile(GetPath(ctx))
	if err != nil {
		return ret, errors.Wrap(err, "reading config file")
	}

	if err = yaml.Unmarshal(b, &ret); err != nil {
		return ret, errors.Wrap(err, "unmarshalling config")
	}

	return ret, nil
}

// Write writes the config to the config file
func Write(ctx context.StallCtx, cf Config) error {
	b, err := yaml.Marshal(cf)
	if err != nil {
		return errors.Wrap(err, "marshalling config into YAML")
	}

	if err = os.WriteFile(GetPath(ctx), b, 0644); err != nil {
		return errors.Wrap(err, "writing the config file")
	}

	return nil
}
