// Package schema serializes the zeusagent command tree so wrappers and
// automation can discover commands and flags without parsing help text.
package schema

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Command struct {
	Path        string    `json:"path"`
	Use         string    `json:"use"`
	Short       string    `json:"short"`
	Aliases     []string  `json:"aliases,omitempty"`
	Flags       []Flag    `json:"flags,omitempty"`
	Subcommands []Command `json:"subcommands,omitempty"`
}

type Flag struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

// Describe resolves an optional space-separated command path under root and
// serializes that subtree.
func Describe(root *cobra.Command, commandPath string) (Command, error) {
	cmd := root
	for _, part := range strings.Fields(strings.TrimSpace(commandPath)) {
		next := findCommand(cmd, part)
		if next == nil {
			return Command{}, fmt.Errorf("command not found: %s", commandPath)
		}
		cmd = next
	}
	return describe(cmd), nil
}

func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
		for _, alias := range c.Aliases {
			if alias == name {
				return c
			}
		}
	}
	return nil
}

func describe(cmd *cobra.Command) Command {
	out := Command{
		Path:    strings.TrimSpace(cmd.CommandPath()),
		Use:     cmd.Use,
		Short:   cmd.Short,
		Aliases: cmd.Aliases,
		Flags:   describeFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" {
			continue
		}
		out.Subcommands = append(out.Subcommands, describe(sub))
	}
	return out
}

func describeFlags(cmd *cobra.Command) []Flag {
	flags := []Flag{}
	cmd.NonInheritedFlags().VisitAll(func(f *pflag.Flag) {
		flags = append(flags, Flag{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
		})
	})
	return flags
}
