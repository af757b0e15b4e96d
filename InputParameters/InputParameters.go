package InputParameters

import (
	"fmt"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/notargets/gohalo/exchange"
)

// Parameters obtained from the YAML input file
type RunParameters struct {
	Title       string   `yaml:"Title"`
	Domains     int      `yaml:"Domains"`
	Threads     int      `yaml:"Threads"`
	Stride      int      `yaml:"Stride"`
	Rounds      int      `yaml:"Rounds"`
	Samples     int      `yaml:"Samples"`
	Variants    []string `yaml:"Variants"` // Empty runs all of them
	Pipelined   bool     `yaml:"Pipelined"`
	Colors      int      `yaml:"Colors"`
	GridNx      int      `yaml:"GridNx"`
	GridNy      int      `yaml:"GridNy"`
	GhostLayers int      `yaml:"GhostLayers"`
}

// Defaults mirror a small benchmark: four strips of a 256x64 grid
func Defaults() *RunParameters {
	return &RunParameters{
		Title:       "Halo exchange",
		Domains:     4,
		Threads:     4,
		Stride:      5,
		Rounds:      100,
		Samples:     5,
		Colors:      4,
		GridNx:      256,
		GridNy:      64,
		GhostLayers: 1,
	}
}

// Parse overlays the YAML document on rp, keys missing from it keep their value
func (rp *RunParameters) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, rp); err != nil {
		return fmt.Errorf("parsing run parameters: %w", err)
	}
	return rp.Validate()
}

func (rp *RunParameters) Validate() error {
	positive := map[string]int{
		"Domains": rp.Domains, "Threads": rp.Threads, "Stride": rp.Stride, "Rounds": rp.Rounds,
		"Samples": rp.Samples, "Colors": rp.Colors, "GridNx": rp.GridNx, "GridNy": rp.GridNy,
	}
	for _, key := range []string{"Domains", "Threads", "Stride", "Rounds", "Samples", "Colors", "GridNx", "GridNy"} {
		if positive[key] <= 0 {
			return fmt.Errorf("%s must be positive, have %d", key, positive[key])
		}
	}
	if rp.GhostLayers < 0 {
		return fmt.Errorf("GhostLayers must not be negative, have %d", rp.GhostLayers)
	}
	_, err := rp.SelectedVariants()
	return err
}

// SelectedVariants resolves the variant names, all variants when none given
func (rp *RunParameters) SelectedVariants() (vs []exchange.Variant, err error) {
	if len(rp.Variants) == 0 {
		return append(vs, exchange.AllVariants...), nil
	}
	for _, name := range rp.Variants {
		var v exchange.Variant
		if v, err = exchange.ParseVariant(name); err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return
}

func (rp *RunParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", rp.Title)
	fmt.Printf("[%d x %d]\t\t= Grid\n", rp.GridNx, rp.GridNy)
	fmt.Printf("[%d]\t\t\t= Domains\n", rp.Domains)
	fmt.Printf("[%d]\t\t\t= Threads per domain\n", rp.Threads)
	fmt.Printf("[%d]\t\t\t= Stride\n", rp.Stride)
	fmt.Printf("[%d]\t\t\t= Ghost layers\n", rp.GhostLayers)
	fmt.Printf("[%d]\t\t\t= Colors\n", rp.Colors)
	fmt.Printf("[%d x %d]\t\t= Rounds x Samples\n", rp.Rounds, rp.Samples)
	fmt.Printf("[%v]\t\t\t= Pipelined\n", rp.Pipelined)
	variants := "all"
	if len(rp.Variants) != 0 {
		variants = strings.Join(rp.Variants, ", ")
	}
	fmt.Printf("[%s]\t\t= Variants\n", variants)
}
