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
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/notargets/gohalo/InputParameters"
	"github.com/notargets/gohalo/cluster"
	"github.com/notargets/gohalo/exchange"
	"github.com/notargets/gohalo/partition"
)

// RunCmd represents the run command
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Time every selected exchange variant over a synthetic strip decomposition",
	Long: `
Runs each selected variant for the configured rounds, several samples each,
and prints the median wall time per variant next to a baseline that computes
without exchanging.

gohalo run -I run.yaml --verify`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			rp   *InputParameters.RunParameters
			opts runOptions
		)
		if rp, err = runParameters(cmd); err != nil {
			return
		}
		opts.Verify, _ = cmd.Flags().GetBool("verify")
		switch mode, _ := cmd.Flags().GetString("profile"); mode {
		case "":
		case "cpu":
			defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet).Stop()
		case "mem":
			defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet).Stop()
		case "block":
			defer profile.Start(profile.BlockProfile, profile.ProfilePath("."), profile.Quiet).Stop()
		default:
			return fmt.Errorf("unknown profile mode %q, use cpu, mem or block", mode)
		}
		if viper.GetBool("verbose") {
			rp.Print()
		}
		_, err = RunBenchmark(rp, opts, cmd.OutOrStdout(), logger)
		if err != nil {
			logger.Error("benchmark failed", zap.Error(err))
		}
		return
	},
}

type runOptions struct {
	Verify bool
}

// Flags of the run command, also settable from the config file
var runFlags = []struct {
	name, usage string
	get         func(rp *InputParameters.RunParameters) any
	set         func(rp *InputParameters.RunParameters, v *viper.Viper, key string)
}{
	{"domains", "number of subdomains",
		func(rp *InputParameters.RunParameters) any { return rp.Domains },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.Domains = v.GetInt(key) }},
	{"threads", "thread team size per domain",
		func(rp *InputParameters.RunParameters) any { return rp.Threads },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.Threads = v.GetInt(key) }},
	{"stride", "float64 values per point",
		func(rp *InputParameters.RunParameters) any { return rp.Stride },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.Stride = v.GetInt(key) }},
	{"rounds", "exchange rounds per sample",
		func(rp *InputParameters.RunParameters) any { return rp.Rounds },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.Rounds = v.GetInt(key) }},
	{"samples", "timed samples per variant",
		func(rp *InputParameters.RunParameters) any { return rp.Samples },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.Samples = v.GetInt(key) }},
	{"colors", "colours per domain",
		func(rp *InputParameters.RunParameters) any { return rp.Colors },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.Colors = v.GetInt(key) }},
	{"nx", "grid columns",
		func(rp *InputParameters.RunParameters) any { return rp.GridNx },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.GridNx = v.GetInt(key) }},
	{"ny", "grid rows",
		func(rp *InputParameters.RunParameters) any { return rp.GridNy },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.GridNy = v.GetInt(key) }},
	{"ghosts", "ghost layers per interface",
		func(rp *InputParameters.RunParameters) any { return rp.GhostLayers },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.GhostLayers = v.GetInt(key) }},
	{"pipelined", "issue one-sided writes per partner as colours complete",
		func(rp *InputParameters.RunParameters) any { return rp.Pipelined },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.Pipelined = v.GetBool(key) }},
	{"variants", "variants to run, all when empty",
		func(rp *InputParameters.RunParameters) any { return rp.Variants },
		func(rp *InputParameters.RunParameters, v *viper.Viper, key string) { rp.Variants = v.GetStringSlice(key) }},
}

func init() {
	rootCmd.AddCommand(RunCmd)
	defaults := InputParameters.Defaults()
	flags := RunCmd.Flags()
	flags.StringP("inputParametersFile", "I", "", "YAML file for run parameters like:\n\t- Domains\n\t- Threads\n\t- Variants")
	flags.Bool("verify", false, "check every ghost value against its owner after each sample")
	flags.String("profile", "", "write a cpu, mem or block profile to the current directory")
	for _, f := range runFlags {
		switch def := f.get(defaults).(type) {
		case int:
			flags.Int(f.name, def, f.usage)
		case bool:
			flags.Bool(f.name, def, f.usage)
		case []string:
			flags.StringSlice(f.name, def, f.usage)
		}
		_ = viper.BindPFlag("run."+f.name, flags.Lookup(f.name))
	}
}

// runParameters layers the parameters: defaults, config file, the -I input
// file, then flags given on the command line.
func runParameters(cmd *cobra.Command) (rp *InputParameters.RunParameters, err error) {
	rp = InputParameters.Defaults()
	for _, f := range runFlags {
		f.set(rp, viper.GetViper(), "run."+f.name)
	}
	if file, _ := cmd.Flags().GetString("inputParametersFile"); file != "" {
		var data []byte
		if data, err = os.ReadFile(file); err != nil {
			return
		}
		if err = rp.Parse(data); err != nil {
			return
		}
	}
	for _, f := range runFlags {
		if cmd.Flags().Changed(f.name) {
			f.set(rp, viper.GetViper(), "run."+f.name)
		}
	}
	err = rp.Validate()
	return
}

// VariantTiming is the timing summary of one variant
type VariantTiming struct {
	Name    string
	Samples []float64 // Seconds, sorted
	Median  float64
	Mean    float64
	StdDev  float64
}

func summarize(name string, samples []float64) (vt VariantTiming) {
	vt = VariantTiming{Name: name, Samples: append([]float64(nil), samples...)}
	sort.Float64s(vt.Samples)
	vt.Median = stat.Quantile(0.5, stat.Empirical, vt.Samples, nil)
	if len(vt.Samples) > 1 {
		vt.Mean, vt.StdDev = stat.MeanStdDev(vt.Samples, nil)
	} else {
		vt.Mean = stat.Mean(vt.Samples, nil)
	}
	return
}

// RunBenchmark times the baseline and every selected variant and writes the
// median table to out.
func RunBenchmark(rp *InputParameters.RunParameters, opts runOptions, out io.Writer,
	log *zap.Logger) (timings []VariantTiming, err error) {
	var (
		strips   *partition.Strips
		variants []exchange.Variant
		id       = uuid.New()
	)
	if variants, err = rp.SelectedVariants(); err != nil {
		return
	}
	strips, err = partition.NewStripDecomposition(rp.GridNx, rp.GridNy, rp.Domains, rp.GhostLayers, rp.Colors)
	if err != nil {
		return
	}
	log = log.With(zap.Stringer("benchmark", id))
	strips.Report(log)

	type job struct {
		name string
		cfg  cluster.Config
	}
	base := cluster.Config{Threads: rp.Threads, Stride: rp.Stride, Rounds: rp.Rounds, Pipelined: rp.Pipelined}
	jobs := []job{{name: "Baseline", cfg: base}}
	jobs[0].cfg.Baseline = true
	for _, v := range variants {
		cfg := base
		cfg.Variant = v
		jobs = append(jobs, job{name: v.String(), cfg: cfg})
	}
	for _, j := range jobs {
		samples := make([]float64, 0, rp.Samples)
		for s := 0; s < rp.Samples; s++ {
			var (
				c   *cluster.Cluster
				res cluster.Result
			)
			if c, err = cluster.New(strips, j.cfg, cluster.WithLogger(log)); err != nil {
				return
			}
			if res, err = c.Run(); err != nil {
				return
			}
			if opts.Verify && !j.cfg.Baseline {
				if err = c.Verify(); err != nil {
					return
				}
			}
			samples = append(samples, res.Elapsed.Seconds())
		}
		timings = append(timings, summarize(j.name, samples))
	}
	printTimings(out, rp, id, timings)
	return
}

var (
	headFmt = color.New(color.Bold).SprintFunc()
	bestFmt = color.New(color.FgGreen, color.Bold).SprintFunc()
)

func printTimings(out io.Writer, rp *InputParameters.RunParameters, id uuid.UUID, timings []VariantTiming) {
	fmt.Fprintf(out, "Run %s: %d domains x %d threads, %dx%d grid, %d ghost layers, stride %d\n",
		id, rp.Domains, rp.Threads, rp.GridNx, rp.GridNy, rp.GhostLayers, rp.Stride)
	fmt.Fprintf(out, "Median of %d samples, %d rounds each\n", rp.Samples, rp.Rounds)
	fmt.Fprintln(out, headFmt(fmt.Sprintf("%-24s %14s %14s %14s", "Variant", "Median", "Mean", "StdDev")))
	best := fastest(timings)
	for i, vt := range timings {
		line := fmt.Sprintf("%-24s %14v %14v %14v", vt.Name,
			seconds(vt.Median), seconds(vt.Mean), seconds(vt.StdDev))
		if i == best {
			line = bestFmt(line)
		}
		fmt.Fprintln(out, line)
	}
}

// fastest is the index of the communicating variant with the lowest median,
// -1 when only the baseline ran
func fastest(timings []VariantTiming) (best int) {
	best = -1
	for i, vt := range timings {
		if vt.Name == "Baseline" {
			continue
		}
		if best < 0 || vt.Median < timings[best].Median {
			best = i
		}
	}
	return
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Microsecond)
}
