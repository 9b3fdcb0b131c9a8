/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"slotmap/labware"
)

var (
	labwareType string
	positions   bool
)

// addressesCmd represents the addresses command
var addressesCmd = &cobra.Command{
	Use:   "addresses",
	Short: "lists the slot addresses of a labware type",
	Long: `Lists every slot address of a labware type in the configured direction.
With --positions the physical position of each slot is printed too, for
types that have a deck layout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := labware.DefaultCatalog().Lookup(labwareType)
		if err != nil {
			return err
		}
		if positions && t.Layout == nil {
			return fmt.Errorf("labware type %s has no layout", t.Name)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, a := range labware.EnumerateAddresses(t, cfg.Direction) {
			if !positions {
				fmt.Fprintln(w, a)
				continue
			}
			p, _ := t.SlotPosition(a)
			fmt.Fprintf(w, "%s\t%s\n", a, p)
		}
		return w.Flush()
	},
}

// labwareCmd represents the labware command
var labwareCmd = &cobra.Command{
	Use:   "labware",
	Short: "lists the known labware types",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := labware.DefaultCatalog()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tROWS\tCOLUMNS\tSLOTS")
		for _, name := range catalog.Names() {
			t, err := catalog.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", name, t.Rows, t.Columns, t.NumSlots())
		}
		return w.Flush()
	},
}

func init() {
	addressesCmd.Flags().StringVarP(&labwareType, "type", "t", "", "labware type name, e.g. \"96 Well Plate\"")
	addressesCmd.Flags().BoolVar(&positions, "positions", false, "print slot positions")
	_ = addressesCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(addressesCmd)
	rootCmd.AddCommand(labwareCmd)
}
