// Copyright 2026 The dirtypipe Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides basic infrastructure to set configuration settings
// for dirtypipe. Each setting that can be changed from the command line is
// tagged with the flag name, and NewFromFlags fills the Config from a parsed
// flag set.
//
// The demonstration's constants are not configurable.
package config

import (
	"flag"
	"fmt"
	"os"
	"reflect"

	"golang.org/x/term"

	"github.com/dirtypipe/dirtypipe/pkg/log"
)

// Interactive selects whether the demonstration pauses at checkpoints.
type Interactive string

const (
	// InteractiveAuto pauses if stdin is a terminal.
	InteractiveAuto Interactive = "auto"

	// InteractiveAlways always pauses.
	InteractiveAlways Interactive = "always"

	// InteractiveNever never pauses.
	InteractiveNever Interactive = "never"
)

// Config holds configuration that is not part of the demonstration itself.
type Config struct {
	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// LogFormat is the log format: "text" or "json".
	LogFormat string `flag:"log-format"`

	// Interactive is the checkpoint mode.
	Interactive Interactive `flag:"interactive"`

	// isTerminal reports whether stdin is a terminal. Overridden in tests.
	isTerminal func() bool
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log-format", log.TextFormat, "log format: text (default) or json.")
	flagSet.String("interactive", string(InteractiveAuto), "pause at every checkpoint until a line is read from stdin: auto (if stdin is a terminal), always, or never.")
}

// NewFromFlags creates a new Config with values coming from the given flag
// set. This function should be called after flag.Parse.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			panic(fmt.Sprintf("Flag %q does not implement flag.Getter", name))
		}
		obj.Field(i).Set(reflect.ValueOf(getter.Get()).Convert(f.Type))
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	if err := log.ValidFormat(c.LogFormat); err != nil {
		return err
	}
	switch c.Interactive {
	case InteractiveAuto, InteractiveAlways, InteractiveNever:
	default:
		return fmt.Errorf("invalid interactive mode %q, must be %q, %q, or %q", c.Interactive, InteractiveAuto, InteractiveAlways, InteractiveNever)
	}
	return nil
}

// Pause returns true if the demonstration should wait at checkpoints.
func (c *Config) Pause() bool {
	switch c.Interactive {
	case InteractiveAlways:
		return true
	case InteractiveNever:
		return false
	}
	if c.isTerminal != nil {
		return c.isTerminal()
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.LogFormat: %s", c.LogFormat)
	log.Infof("Config.Interactive: %s (pausing: %t)", c.Interactive, c.Pause())
}
