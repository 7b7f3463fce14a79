package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/gapscan/internal/scheduler"
	"github.com/wonny/gapscan/internal/scheduler/jobs"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run or inspect the job scheduler",
	Long: `Starts the scheduler daemon or triggers registered jobs.

Registered jobs:
- daily_scan: 16:30 on weekdays (scan the closed session)
- retry_sweep: 20:00 on weekdays (re-scan days flagged RETRY_NEEDED)

Example:
  go run ./cmd/gapscan scheduler start
  go run ./cmd/gapscan scheduler run daily_scan`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		RunE:  runSchedulerStart,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Trigger one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchedulerJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

func buildScheduler(cmd *cobra.Command) (*scheduler.Scheduler, *appDeps, error) {
	deps, err := initDeps(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	sched := scheduler.New(deps.log)
	if err := sched.AddJob(jobs.NewDailyScanJob(deps.scanner, deps.log)); err != nil {
		deps.Close()
		return nil, nil, err
	}
	if err := sched.AddJob(jobs.NewRetrySweepJob(deps.scanner, deps.completeness, deps.log)); err != nil {
		deps.Close()
		return nil, nil, err
	}
	return sched, deps, nil
}

func runSchedulerStart(cmd *cobra.Command, args []string) error {
	sched, deps, err := buildScheduler(cmd)
	if err != nil {
		return err
	}
	defer deps.Close()

	sched.Start()
	defer sched.Stop()

	fmt.Println("\n✅ Scheduler running")
	fmt.Println("\nRegistered jobs:")
	for _, name := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	return nil
}

func runSchedulerJob(cmd *cobra.Command, args []string) error {
	sched, deps, err := buildScheduler(cmd)
	if err != nil {
		return err
	}
	defer deps.Close()

	jobName := args[0]
	if err := sched.RunJob(jobName); err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("Job %s triggered", jobName))
	fmt.Println("Waiting for completion (Ctrl+C to detach)...")

	// RunJob is async; watch history until the run lands
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			return nil
		case <-time.After(500 * time.Millisecond):
		}
		history, err := sched.GetJobHistory(jobName)
		if err != nil {
			return err
		}
		if results := history.GetLatestResults(1); len(results) == 1 {
			r := results[0]
			if r.Success {
				PrintSuccess(fmt.Sprintf("Job %s completed in %s", jobName, r.Duration))
			} else {
				PrintError(fmt.Sprintf("Job %s failed: %s", jobName, r.Error))
			}
			return nil
		}
	}
}
