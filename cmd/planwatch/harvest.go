package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest <council> <reference>",
	Short: "Store every public comment of one planning application.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		rep, err := svc.HarvestApplicationComments(cmd.Context(), args[0], args[1])
		if perr := printJSON(rep); perr != nil {
			return perr
		}
		return err
	},
}

var keyValCmd = &cobra.Command{
	Use:   "keyval <council> <keyVal>",
	Short: "Store every public comment of the application with a portal keyVal.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		rep, err := svc.HarvestKeyVal(cmd.Context(), args[0], args[1])
		if perr := printJSON(rep); perr != nil {
			return perr
		}
		return err
	},
}

var postcodeHarvest bool

var postcodeCmd = &cobra.Command{
	Use:   "postcode <council> <postcode>",
	Short: "List every application for a postcode; --harvest also stores their comments.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		if postcodeHarvest {
			reports, err := svc.HarvestPostcode(cmd.Context(), args[0], args[1])
			if perr := printJSON(reports); perr != nil {
				return perr
			}
			return err
		}
		links, err := svc.HarvestPostcodeApplications(cmd.Context(), args[0], args[1])
		if perr := printJSON(links); perr != nil {
			return perr
		}
		return err
	},
}

var detailsCmd = &cobra.Command{
	Use:   "details <council> <url>...",
	Short: "Scrape application details, one JSON line per URL.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		apps, err := svc.ScrapeApplicationDetails(cmd.Context(), args[0], args[1:])
		enc := json.NewEncoder(os.Stdout)
		for _, a := range apps {
			if err := enc.Encode(a); err != nil {
				return err
			}
		}
		return err
	},
}

func init() {
	postcodeCmd.Flags().BoolVar(&postcodeHarvest, "harvest", false, "harvest the comments of every listed application")
	rootCmd.AddCommand(harvestCmd, keyValCmd, postcodeCmd, detailsCmd)
}
