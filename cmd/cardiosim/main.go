package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/san-kum/cardiosim/internal/config"
	"github.com/san-kum/cardiosim/internal/device"
	"github.com/san-kum/cardiosim/internal/engine"
	"github.com/san-kum/cardiosim/internal/models"
	"github.com/san-kum/cardiosim/internal/storage"
	"github.com/san-kum/cardiosim/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string
	duration   float64
	stepSize   float64
	nx         int
	ny         int
	ratio      int
	plotVar    string
	watchVar   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cardiosim",
		Short: "multi-rate cardiac tissue simulation",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".cardiosim", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation and store the result",
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)
	runCmd.Flags().StringVar(&plotVar, "plot", "", "plot this logged variable when the run completes")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run a simulation with live visualization",
		RunE:  runLive,
	}
	addRunFlags(liveCmd)
	liveCmd.Flags().StringVar(&watchVar, "watch", "", "logged variable for the strip chart (default: first logged state)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&plotVar, "var", "", "logged variable to plot (default: first non-time column)")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "print run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				fmt.Println(name)
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "write a default run description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Save(args[0], config.DefaultConfig())
		},
	}

	rootCmd.AddCommand(runCmd, liveCmd, listCmd, plotCmd, exportCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "run description file (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use a preset run description")
	cmd.Flags().Float64Var(&duration, "time", 0, "simulation end time (ms)")
	cmd.Flags().Float64Var(&stepSize, "dt", 0, "default step size (ms)")
	cmd.Flags().IntVar(&nx, "nx", 0, "lattice width in cells")
	cmd.Flags().IntVar(&ny, "ny", 0, "lattice height in cells")
	cmd.Flags().IntVar(&ratio, "ratio", 0, "fast steps per slow reaction update")
}

// resolveConfig layers the run description: preset or file first, then any
// explicitly changed flags on top.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("time") {
		cfg.TMax = duration
	}
	if cmd.Flags().Changed("dt") {
		cfg.StepSize = stepSize
	}
	if cmd.Flags().Changed("nx") {
		cfg.Nx = nx
	}
	if cmd.Flags().Changed("ny") {
		cfg.Ny = ny
	}
	if cmd.Flags().Changed("ratio") {
		cfg.Ratio = ratio
	}
	return cfg, nil
}

func newSim(cmd *cobra.Command) (*engine.Sim, engine.Config, *models.Model, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, engine.Config{}, nil, err
	}
	ec, m, err := cfg.Build()
	if err != nil {
		return nil, engine.Config{}, nil, err
	}
	sim, err := engine.New(ec, device.Auto(m.Kernels))
	if err != nil {
		return nil, engine.Config{}, nil, err
	}
	return sim, ec, m, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	sim, ec, m, err := newSim(cmd)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		sim.Release()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("running %s on %dx%d cells...\n", m.Name, ec.Nx, ec.Ny)
	start := time.Now()
	reached, err := sim.Run(ctx)
	if err != nil {
		sim.Release()
		return err
	}
	elapsed := time.Since(start)

	runID, err := st.Save(m.Name, ec, reached, sim.Halted(), sim.Log())
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("reached: %.3f ms\n", reached)
	fmt.Printf("samples: %d\n", sim.Log().Len())
	if sim.Halted() {
		fmt.Println("halted: NaN in state")
	}

	if plotVar != "" {
		chart := viz.PlotLog(sim.Log(), plotVar)
		if chart == "" {
			return fmt.Errorf("nothing logged for %q", plotVar)
		}
		fmt.Println()
		fmt.Println(chart)
	}
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	sim, ec, m, err := newSim(cmd)
	if err != nil {
		return err
	}

	watch := watchVar
	if watch == "" {
		for _, name := range sim.Log().Names() {
			if name != m.Info.TimeName {
				watch = name
				break
			}
		}
	}

	final, err := tea.NewProgram(viz.NewModel(sim, ec, watch)).Run()
	if err != nil {
		sim.Release()
		return err
	}
	if vm, ok := final.(viz.Model); ok {
		if err := vm.Err(); err != nil {
			return err
		}
		if sim.Done() {
			fmt.Printf("reached: %.3f ms\n", vm.Final())
		}
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tLATTICE\tWINDOW\tDT\tRATIO\tSAMPLES\tHALTED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t[%.0f,%.0f]\t%.4f\t%d\t%d\t%v\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Nx, run.Ny,
			run.TMin, run.TMax,
			run.StepSize,
			run.Ratio,
			run.Samples,
			run.Halted,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := storage.New(dataDir)

	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	series, err := st.LoadSeries(runID)
	if err != nil {
		return err
	}

	name := plotVar
	if name == "" {
		for n := range series {
			if n != "engine.time" {
				name = n
				break
			}
		}
	}
	data, ok := series[name]
	if !ok {
		return fmt.Errorf("run %s has no series %q", runID, name)
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("samples: %d\n\n", len(data))
	fmt.Println(viz.Plot(data, name))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
