package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JonMunkholm/zootally/internal/tally"
)

// printSummary writes the per-kind action counts of a changeset. With
// verbose it also lists every action.
func printSummary(w io.Writer, st *tally.StagedChangeset, verbose bool) {
	sum := st.Changeset.Summary()
	fmt.Fprintf(w, "File:       %s\n", st.FileName)
	fmt.Fprintf(w, "Enclosures: %s\n", strings.Join(st.Changeset.Enclosures, ", "))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tadd\tupdate\tdelete\t")
	for _, k := range []struct {
		name string
		c    tally.OpCounts
	}{{"animals", sum.Animals}, {"groups", sum.Groups}} {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", k.name,
			humanize.Comma(int64(k.c.Add)), humanize.Comma(int64(k.c.Update)), humanize.Comma(int64(k.c.Delete)))
	}
	_ = tw.Flush()

	if !verbose {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tKIND\tENCLOSURE\tACCESSION\tCHANGED")
	list := func(kind tally.Kind, actions []tally.Action) {
		for _, a := range actions {
			var changed string
			if u, ok := a.(tally.UpdateAction); ok {
				changed = strings.Join(u.Changed, ",")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Op(), kind, a.Enclosure(), a.Accession(), changed)
		}
	}
	list(tally.KindAnimal, st.Changeset.Animals)
	list(tally.KindGroup, st.Changeset.Groups)
	_ = tw.Flush()
}

// printResult writes the outcome of an apply.
func printResult(w io.Writer, res tally.ApplyResult) {
	total := res.Summary.Animals.Total() + res.Summary.Groups.Total()
	fmt.Fprintf(w, "Applied %s actions (%s species upserted, %s deactivated, %s already inactive)\n",
		humanize.Comma(int64(total)),
		humanize.Comma(int64(res.SpeciesUpserted)),
		humanize.Comma(int64(res.Deactivated)),
		humanize.Comma(int64(res.AlreadyInactive)))
	if res.IngestID != "" {
		fmt.Fprintf(w, "Ingest ID: %s\n", res.IngestID)
	}
}

// printHistory writes the ingest log, newest first.
func printHistory(w io.Writer, records []tally.IngestRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No confirmed ingests.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONFIRMED\tFILE\tENCLOSURES\tANIMALS +/~/-\tGROUPS +/~/-\tID")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d/%d\t%d/%d/%d\t%s\n",
			humanize.RelTime(r.ConfirmedAt, now, "ago", "from now"),
			r.FileName,
			strings.Join(r.Enclosures, ", "),
			r.Summary.Animals.Add, r.Summary.Animals.Update, r.Summary.Animals.Delete,
			r.Summary.Groups.Add, r.Summary.Groups.Update, r.Summary.Groups.Delete,
			r.ID)
	}
	_ = tw.Flush()
}
