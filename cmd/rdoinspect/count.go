package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lemmego/rdo"
	"github.com/spf13/cobra"
)

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	var where []string

	cmd := &cobra.Command{
		Use:   "count <table>",
		Short: "Count the rows of a table, optionally filtered by equality",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseWhere(where)
			if err != nil {
				return err
			}
			return runCount(cmd, rootOpts, args[0], filter)
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "field=value equality filter (repeatable)")

	return cmd
}

func runCount(cmd *cobra.Command, opts *RootOptions, table string, filter rdo.Filter) error {
	s, err := openSession(opts, table, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	var criterion interface{}
	if len(filter) > 0 {
		criterion = filter
	}
	n, err := s.mapper.Count(cmd.Context(), criterion)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{"table": table, "count": n})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
	return err
}

// parseWhere turns field=value pairs into an equality filter.
func parseWhere(pairs []string) (rdo.Filter, error) {
	filter := rdo.Filter{}
	for _, pair := range pairs {
		field, value, ok := strings.Cut(pair, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --where %q: expected field=value", pair)
		}
		filter[strings.TrimSpace(field)] = value
	}
	return filter, nil
}
