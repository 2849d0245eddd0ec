package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"vidmatrix/internal/apperr"
	"vidmatrix/internal/config"
	"vidmatrix/internal/matrix"
	"vidmatrix/internal/model"
	"vidmatrix/internal/runstore"
	"vidmatrix/internal/workspace"
)

func doctorFlags(fs *flag.FlagSet, cfg config.Config) func() workspace.DoctorOptions {
	inputDir := fs.String("input-dir", cfg.InputDir, "directory of job files")
	profilesDir := fs.String("profiles-dir", cfg.ProfilesDir, "directory of profile files")
	outputDir := fs.String("output-dir", cfg.OutputDir, "root directory for run directories")
	authConfig := fs.String("auth-config", cfg.AuthConfigPath, "1Password item reference (auth.yaml)")
	no1Password := fs.Bool("no-1password", false, "skip 1Password and use REPLICATE_API_TOKEN")
	return func() workspace.DoctorOptions {
		return workspace.DoctorOptions{
			InputDir:       strings.TrimSpace(*inputDir),
			ProfilesDir:    strings.TrimSpace(*profilesDir),
			OutputDir:      strings.TrimSpace(*outputDir),
			AuthConfigPath: strings.TrimSpace(*authConfig),
			Use1Password:   cfg.Use1Password && !*no1Password,
			EnvToken:       cfg.ReplicateToken,
		}
	}
}

func printChecks(checks []workspace.DoctorCheck) {
	for _, c := range checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
	}
}

func runDoctor(args []string) error {
	cfg := config.Load()
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	opts := doctorFlags(fs, cfg)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := workspace.Doctor(opts())
	if err != nil {
		return err
	}
	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		printChecks(res.Checks)
	}
	if !res.OK {
		return apperr.Config("doctor", errors.New("doctor checks failed"))
	}
	if !*jsonOut {
		fmt.Println("doctor: all checks passed")
	}
	return nil
}

func runInit(args []string) error {
	cfg := config.Load()
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	opts := doctorFlags(fs, cfg)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := workspace.Init(workspace.InitOptions{Doctor: opts()})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}
	for _, p := range res.Created {
		fmt.Printf("created: %s\n", p)
	}
	if len(res.Created) == 0 {
		fmt.Println("workspace already initialized")
	}
	printChecks(res.Doctor.Checks)
	if !res.Doctor.OK {
		fmt.Println("next steps:")
		fmt.Println("  add job files (prompt, frame count, ![image](https://...)) to the input directory")
		fmt.Printf("  copy %s to <name>.yaml in the profiles directory\n", workspace.ExampleProfileName)
		fmt.Println("  set REPLICATE_API_TOKEN or configure the 1Password item in auth.yaml")
	}
	return nil
}

type statusOutput struct {
	RunDir     string              `json:"run_dir"`
	Meta       runstore.RunMeta    `json:"run"`
	Cells      model.CellsManifest `json:"cells"`
	VideoBytes int64               `json:"video_bytes"`
}

func runStatus(args []string) error {
	cfg := config.Load()
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	outputDir := fs.String("output-dir", cfg.OutputDir, "root directory for run directories")
	runDir := fs.String("run-dir", "", "run directory (default: latest under --output-dir)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir := strings.TrimSpace(*runDir)
	if dir == "" {
		latest, err := runstore.LatestRunDir(strings.TrimSpace(*outputDir))
		if err != nil {
			return apperr.Input("status", err)
		}
		dir = latest
	}
	meta, err := runstore.LoadRunMeta(dir)
	if err != nil {
		return apperr.Input("status", err)
	}
	var cells model.CellsManifest
	if err := runstore.ReadJSON(runstore.CellsPath(dir), &cells); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	var videoBytes int64
	for _, c := range cells.Cells {
		if c.Status != model.CellCompleted || c.VideoPath == "" {
			continue
		}
		if info, err := os.Stat(matrix.VideoPath(dir, c)); err == nil {
			videoBytes += info.Size()
		}
	}

	if *jsonOut {
		return printJSON(statusOutput{RunDir: dir, Meta: meta, Cells: cells, VideoBytes: videoBytes})
	}
	fmt.Printf("%s [%s]\n", dir, meta.Status)
	fmt.Printf("  run: %s (created %s", meta.RunID, meta.CreatedAt)
	if meta.Resumes > 0 {
		fmt.Printf(", resumed %d time(s)", meta.Resumes)
	}
	fmt.Println(")")
	fmt.Printf("  jobs: %s\n", strings.Join(meta.Jobs, ", "))
	fmt.Printf("  profiles: %s\n", strings.Join(meta.Profiles, ", "))
	fmt.Printf("  completed/pending/failed: %d/%d/%d of %d\n", cells.Completed, cells.Pending+cells.Running, cells.Failed, cells.Total)
	fmt.Printf("  cost: $%.4f\n", meta.Cost)
	fmt.Printf("  videos on disk: %s\n", formatBytesIEC(videoBytes))
	for _, c := range cells.Cells {
		if c.Status == model.CellFailed {
			fmt.Printf("  failed %s at %s: %s\n", c.CellID, c.Reason, c.LastError)
		}
	}
	if meta.Error != "" {
		fmt.Printf("  error: %s\n", meta.Error)
	}
	return nil
}
