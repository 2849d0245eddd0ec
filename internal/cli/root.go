package cli

import (
	"context"
	"fmt"
)

func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "run":
		return runGenerate(ctx, args[1:])
	case "estimate":
		return runEstimate(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "status":
		return runStatus(args[1:])
	case "init":
		return runInit(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("vidmatrix: batch image-to-video generation over Replicate")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  vidmatrix init")
	fmt.Println("  vidmatrix validate")
	fmt.Println("  vidmatrix estimate")
	fmt.Println("  vidmatrix run")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init      create the USER-FILES layout and starter files, then run doctor")
	fmt.Println("  doctor    check directories, inputs and credentials")
	fmt.Println("  validate  parse every job and profile and report all problems")
	fmt.Println("  estimate  price every job x profile cell without calling the API")
	fmt.Println("  run       generate every job x profile cell; stops at the first failure")
	fmt.Println("  status    show the state of the latest (or a given) run")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Settings come from flags, then the environment, then .env")
	fmt.Println("  - Resume an interrupted run with: vidmatrix run --resume <run-dir|latest>")
	fmt.Println()
	fmt.Println("Exit codes: 0 ok, 1 fatal, 2 auth, 3 input/config, 4 generation, 130 interrupted")
}
