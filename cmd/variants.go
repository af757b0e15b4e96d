/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/notargets/gohalo/exchange"
)

// VariantsCmd represents the variants command
var VariantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "List the exchange variants",
	Run: func(cmd *cobra.Command, args []string) {
		listVariants(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(VariantsCmd)
}

func listVariants(out io.Writer) {
	for _, v := range exchange.AllVariants {
		kind := "two-sided"
		if v.OneSided() {
			kind = "one-sided"
		}
		fmt.Fprintf(out, "%-24s %-10s %d exposed segments\n", v, kind, v.ExposedSegments())
	}
}
