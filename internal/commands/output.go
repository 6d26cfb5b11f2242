package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"evalgo.org/flightdeck/models"
)

// outputFormat is shared by the client commands' --format flag.
var outputFormat string

const requestTimeout = 30 * time.Second

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func checkFormat() error {
	switch outputFormat {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q (use table or json)", outputFormat)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}

func printTargets(targets []models.Target) error {
	if outputFormat == "json" {
		return printJSON(os.Stdout, targets)
	}
	w := newTable(os.Stdout)
	fmt.Fprintln(w, "ALIAS\tCONNECT URL\tREALM\tLABELS")
	for _, t := range targets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.DisplayName(), t.ConnectURL,
			t.Annotations.Cryostat[models.AnnotationRealm], formatLabels(t.Labels))
	}
	return w.Flush()
}
