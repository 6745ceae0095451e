package commands

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wonny/coarank/backend/internal/manager"
	"github.com/wonny/coarank/backend/internal/scheduler"
	"github.com/wonny/coarank/backend/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run or inspect the cron jobs",
	Long: `Runs the scheduler daemon or one job on demand.

Jobs:
  full_update        - SCHEDULE_UPDATE (default daily 03:00)
  ranking_retention  - SCHEDULE_RETENTION (default Sundays 03:30)

Example:
  go run ./cmd/coarank scheduler start
  go run ./cmd/coarank scheduler list
  go run ./cmd/coarank scheduler run ranking_retention`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		RunE:  runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs with their next run",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job now and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
}

// newScheduler registers the coarank jobs. progress, when set, receives
// the events of scheduled full updates.
func newScheduler(a *app, progress manager.ProgressFunc) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log)

	update := jobs.NewFullUpdateJob(a.manager, a.cfg.Schedule.Update, manager.UpdateOptions{Progress: progress}, a.log)
	if err := sched.AddJob(update); err != nil {
		return nil, err
	}
	retention := jobs.NewRankingRetentionJob(a.manager, a.cfg.Schedule.Retention, a.cfg.Ranking.KeepLast, a.log)
	if err := sched.AddJob(retention); err != nil {
		return nil, err
	}
	return sched, nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== coarank Scheduler ===")

	a, err := bootstrap(cmd.Context(), os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newScheduler(a, nil)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	printJobs(sched)
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")

	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, err := bootstrapQuiet(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newScheduler(a, nil)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	// Next run times are only computed by a running cron.
	sched.Start()
	defer sched.Stop()

	printJobs(sched)
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	a, err := bootstrapQuiet(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := newScheduler(a, nil)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	fmt.Printf("Running job: %s\n", jobName)
	result, err := sched.RunJobSync(jobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("job %s failed after %d attempts: %s", jobName, result.Attempts, result.Error)
	}
	printSuccess(os.Stdout, "Job %s completed in %s", jobName, result.Duration)
	return nil
}

func printJobs(sched *scheduler.Scheduler) {
	stats := sched.GetJobStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable(os.Stdout)
	t.AppendHeader(table.Row{"Job", "Schedule", "Next Run"})
	for _, name := range names {
		st := stats[name]
		next := "-"
		if st.NextRun != nil {
			next = st.NextRun.Format("2006-01-02 15:04:05")
		}
		t.AppendRow(table.Row{name, st.Schedule, next})
	}
	t.Render()
}
