package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/lemmego/rdo"
	"github.com/spf13/cobra"
)

// Description is the describe output.
type Description struct {
	Table      string       `json:"table"`
	PrimaryKey string       `json:"primary_key"`
	Columns    []rdo.Column `json:"columns"`
	Select     string       `json:"select"`
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Print the columns, primary key and SELECT of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd, rootOpts, args[0])
		},
	}
}

func runDescribe(cmd *cobra.Command, opts *RootOptions, table string) error {
	s, err := openSession(opts, table, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	info, err := s.mapper.TableInfo(ctx)
	if err != nil {
		return err
	}
	q, err := s.mapper.NewQuery(ctx)
	if err != nil {
		return err
	}
	sql, _, err := q.Build()
	if err != nil {
		return err
	}

	d := Description{Table: info.Name, PrimaryKey: info.PrimaryKey, Columns: info.Columns, Select: sql}
	return writeDescription(cmd.OutOrStdout(), opts.Format, d)
}

func writeDescription(w io.Writer, format string, d Description) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Fprintf(w, "table: %s\nprimary key: %s\n\n", d.Table, d.PrimaryKey)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tTYPE\tNULLABLE\tKEY")
	for _, c := range d.Columns {
		key := ""
		if c.IsPrimaryKey {
			key = "PRI"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", c.Name, c.Type, c.IsNullable, key)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n", d.Select)
	return err
}
