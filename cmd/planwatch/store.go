package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/planwatch/planwatch"
)

var (
	readCouncil string
	readApp     string
	readLimit   int

	geocodeCouncil string
	geocodeOffset  int

	syncFrom string
	syncTo   string

	assumeYes bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Print stored comments as a table.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		tbl, err := svc.Store().ReadTable(cmd.Context(), planwatch.Filter{
			Council:       readCouncil,
			ApplicationID: readApp,
			Limit:         readLimit,
		})
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		header := make(table.Row, len(tbl.Columns))
		for i, c := range tbl.Columns {
			header[i] = c
		}
		t.AppendHeader(header)
		for _, r := range tbl.Rows {
			row := make(table.Row, len(r))
			for i, v := range r {
				row[i] = v
			}
			t.AppendRow(row)
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "address", WidthMax: 40},
			{Name: "comment_text", WidthMax: 60},
		})
		t.AppendFooter(table.Row{"rows", len(tbl.Rows)})
		t.Render()
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count <council> <reference>",
	Short: "Count the stored comments of one application.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		n, err := svc.Store().CountFor(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Remove comments whose content duplicates an earlier row.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		n, err := svc.Store().DeduplicateByContent(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d duplicate rows\n", n)
		return nil
	},
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode stored addresses that have no coordinates yet.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		st, err := svc.ResolveCoordinates(cmd.Context(), geocodeCouncil, geocodeOffset)
		if perr := printJSON(st); perr != nil {
			return perr
		}
		return err
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy comments from one environment into another.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		st, err := svc.Sync(cmd.Context(), syncFrom, syncTo)
		if perr := printJSON(st); perr != nil {
			return perr
		}
		return err
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the comments table if absent and report it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		ok, err := svc.Store().TableExists(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("env %s (%s): table %s exists=%t\n", svc.Store().Env(), svc.Store().Driver(), planwatch.CommentsTable, ok)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert two sample comments.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		st, err := svc.Seed(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete all | council <name> | id <row-id> | table",
	Short: "Delete stored comments. Asks for confirmation unless --yes.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		st := svc.Store()
		ctx := cmd.Context()
		env := st.Env()

		switch args[0] {
		case "all":
			ok := confirm(fmt.Sprintf("Delete ALL comments in %s?", env))
			n, err := st.DeleteAll(ctx, ok)
			return report(n, err)
		case "council":
			if len(args) != 2 {
				return fmt.Errorf("delete council: council name required")
			}
			ok := confirm(fmt.Sprintf("Delete every %s comment in %s?", args[1], env))
			n, err := st.DeleteByCouncil(ctx, args[1], ok)
			return report(n, err)
		case "id":
			if len(args) != 2 {
				return fmt.Errorf("delete id: row id required")
			}
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("delete id: %w", err)
			}
			ok := confirm(fmt.Sprintf("Delete row %d in %s?", id, env))
			n, err := st.DeleteByID(ctx, id, ok)
			return report(n, err)
		case "table":
			ok := confirm(fmt.Sprintf("Drop the %s table in %s?", planwatch.CommentsTable, env))
			if err := st.Drop(ctx, ok); err != nil {
				return err
			}
			fmt.Println("table dropped")
			return nil
		default:
			return fmt.Errorf("delete: unknown target %q", args[0])
		}
	},
}

func confirm(prompt string) bool {
	if assumeYes {
		return true
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func report(n int64, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d rows\n", n)
	return nil
}

func init() {
	readCmd.Flags().StringVar(&readCouncil, "council", "", "only this council")
	readCmd.Flags().StringVar(&readApp, "application", "", "only this application reference")
	readCmd.Flags().IntVar(&readLimit, "limit", 0, "maximum rows (0 = all)")

	geocodeCmd.Flags().StringVar(&geocodeCouncil, "council", "", "only this council")
	geocodeCmd.Flags().IntVar(&geocodeOffset, "offset", 0, "skip this many pending rows")

	syncCmd.Flags().StringVar(&syncFrom, "from", "dev", "source environment")
	syncCmd.Flags().StringVar(&syncTo, "to", "prod", "target environment")

	deleteCmd.Flags().BoolVar(&assumeYes, "yes", false, "do not ask for confirmation")

	rootCmd.AddCommand(readCmd, countCmd, dedupCmd, geocodeCmd, syncCmd, schemaCmd, seedCmd, deleteCmd)
}
