package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/flightdeck/models"
	"evalgo.org/flightdeck/pkg/flightdeck/client"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"rec"},
	Short:   "Control flight recordings on targets",
	Long: `Control flight recordings. TARGET is a connect URL or a jvmId.

Examples:
  flightdeck recordings list service:jmx:rmi:///jndi/rmi://app:9091/jmxrmi
  flightdeck recordings start TARGET profiling --events template=Profiling --duration 60s
  flightdeck recordings save TARGET profiling
  flightdeck recordings archives`,
}

var listRecordingsCmd = &cobra.Command{
	Use:   "list TARGET",
	Short: "List a target's recordings",
	Args:  cobra.ExactArgs(1),
	RunE:  runListRecordings,
}

var startRecordingCmd = &cobra.Command{
	Use:   "start TARGET NAME",
	Short: "Start a recording",
	Args:  cobra.ExactArgs(2),
	RunE:  runStartRecording,
}

var stopRecordingCmd = &cobra.Command{
	Use:   "stop TARGET NAME",
	Short: "Stop a running recording",
	Args:  cobra.ExactArgs(2),
	RunE:  runStopRecording,
}

var saveRecordingCmd = &cobra.Command{
	Use:   "save TARGET NAME",
	Short: "Archive a recording",
	Args:  cobra.ExactArgs(2),
	RunE:  runSaveRecording,
}

var deleteRecordingCmd = &cobra.Command{
	Use:   "delete TARGET NAME",
	Short: "Delete a recording from a target",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeleteRecording,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot TARGET",
	Short: "Snapshot a target's running recordings",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

var listArchivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List archived recordings",
	Args:  cobra.NoArgs,
	RunE:  runListArchives,
}

var deleteArchiveCmd = &cobra.Command{
	Use:   "delete-archive NAME",
	Short: "Delete an archived recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteArchive,
}

var (
	recEvents        string
	recDuration      time.Duration
	recMaxAge        time.Duration
	recMaxSize       int64
	recArchiveOnStop bool
	recReplace       string
	recLabels        map[string]string
)

func init() {
	recordingsCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")

	startRecordingCmd.Flags().StringVar(&recEvents, "events", "template=Continuous", "event specifier")
	startRecordingCmd.Flags().DurationVar(&recDuration, "duration", 0, "fixed duration (0 runs until stopped)")
	startRecordingCmd.Flags().DurationVar(&recMaxAge, "max-age", 0, "maximum age of retained data")
	startRecordingCmd.Flags().Int64Var(&recMaxSize, "max-size", 0, "maximum size of retained data in bytes")
	startRecordingCmd.Flags().BoolVar(&recArchiveOnStop, "archive-on-stop", false, "archive the recording when it stops")
	startRecordingCmd.Flags().StringVar(&recReplace, "replace", "", "replacement policy (ALWAYS, STOPPED, NEVER)")
	startRecordingCmd.Flags().StringToStringVar(&recLabels, "label", nil, "label key=value (repeatable)")

	recordingsCmd.AddCommand(listRecordingsCmd)
	recordingsCmd.AddCommand(startRecordingCmd)
	recordingsCmd.AddCommand(stopRecordingCmd)
	recordingsCmd.AddCommand(saveRecordingCmd)
	recordingsCmd.AddCommand(deleteRecordingCmd)
	recordingsCmd.AddCommand(snapshotCmd)
	recordingsCmd.AddCommand(listArchivesCmd)
	recordingsCmd.AddCommand(deleteArchiveCmd)
}

func printRecordings(recs []models.ActiveRecording) error {
	if outputFormat == "json" {
		return printJSON(os.Stdout, recs)
	}
	w := newTable(os.Stdout)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tSTARTED\tDURATION\tLABELS")
	for _, r := range recs {
		started := "-"
		if r.StartTime > 0 {
			started = time.UnixMilli(r.StartTime).UTC().Format(time.RFC3339)
		}
		duration := "continuous"
		if !r.Continuous {
			duration = (time.Duration(r.Duration) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.State, started, duration, formatLabels(r.Metadata.Labels))
	}
	return w.Flush()
}

func runListRecordings(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	recs, err := c.ListRecordings(ctx, args[0])
	if err != nil {
		return err
	}
	return printRecordings(recs)
}

func runStartRecording(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	rec, err := c.StartRecording(ctx, args[0], client.RecordingRequest{
		Name:          args[1],
		Events:        recEvents,
		Duration:      int64(recDuration / time.Second),
		MaxAge:        int64(recMaxAge / time.Second),
		MaxSize:       recMaxSize,
		ArchiveOnStop: recArchiveOnStop,
		Replace:       recReplace,
		Labels:        recLabels,
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Started recording %s (id %d)\n", rec.Name, rec.ID)
	return nil
}

func runStopRecording(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	rec, err := c.StopRecording(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("✓ Recording %s is %s\n", rec.Name, rec.State)
	return nil
}

func runSaveRecording(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	name, err := c.SaveRecording(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("✓ Archived as %s\n", name)
	return nil
}

func runDeleteRecording(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	if err := c.DeleteRecording(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted recording %s\n", args[1])
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	rec, kept, err := c.Snapshot(ctx, args[0])
	if err != nil {
		return err
	}
	if !kept {
		fmt.Println("No running recordings, snapshot discarded")
		return nil
	}
	fmt.Printf("✓ Created snapshot %s (id %d)\n", rec.Name, rec.ID)
	return nil
}

func runListArchives(cmd *cobra.Command, args []string) error {
	if err := checkFormat(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	archives, err := c.ListArchives(ctx)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(os.Stdout, archives)
	}
	w := newTable(os.Stdout)
	fmt.Fprintln(w, "NAME\tTARGET\tSIZE\tARCHIVED")
	for _, a := range archives {
		archived := time.UnixMilli(a.ArchivedTime).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", a.Name, a.ConnectURL, a.Size, archived)
	}
	return w.Flush()
}

func runDeleteArchive(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	if err := c.DeleteArchive(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted archive %s\n", args[0])
	return nil
}
