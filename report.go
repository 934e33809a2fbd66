package overlapbench

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// writeSizeLine writes the data-driven result of one size:
//
//	<bytes>\t<overlap %>
func writeSizeLine(w io.Writer, r SizeResult) {
	fmt.Fprintf(w, "%d\t%f\n", r.Bytes(), r.Overlap)
}

// writeTimeReport writes the time-driven result. Times are in milliseconds.
func writeTimeReport(w io.Writer, r TimeResult) {
	fmt.Fprintf(w, "Data size exchanged per rank: %d bytes\n", r.Bytes())
	fmt.Fprintf(w, "Injected work time: %f milli-seconds\n", ms(r.WorkTime))
	fmt.Fprintf(w, "Reference time: %f milli-seconds (stdev: %f)\n", ms(r.Ref), ms(r.Stdev))
	fmt.Fprintf(w, "Overlap: %.0f %%\n", r.Overlap)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// rankTable is one verbose table: a value per rank of the accepted round.
type rankTable struct {
	title string
	pick  func(RoundStats) time.Duration
}

var rankTables = []rankTable{
	{"Total post time (%d iterations)", func(r RoundStats) time.Duration { return r.Post.Total }},
	{"Total work time (%d iterations)", func(r RoundStats) time.Duration { return r.Work.Total }},
	{"Total wait time (%d iterations)", func(r RoundStats) time.Duration { return r.Wait.Total }},
	{"Post stdev", func(r RoundStats) time.Duration { return r.Post.Stdev }},
	{"Post mins per iteration", func(r RoundStats) time.Duration { return r.Post.Min }},
	{"Post maxs per iteration", func(r RoundStats) time.Duration { return r.Post.Max }},
	{"Work stdev", func(r RoundStats) time.Duration { return r.Work.Stdev }},
	{"Work mins per iteration", func(r RoundStats) time.Duration { return r.Work.Min }},
	{"Work maxs per iteration", func(r RoundStats) time.Duration { return r.Work.Max }},
	{"Wait stdev", func(r RoundStats) time.Duration { return r.Wait.Stdev }},
	{"Wait mins per iteration", func(r RoundStats) time.Duration { return r.Wait.Min }},
	{"Wait maxs per iteration", func(r RoundStats) time.Duration { return r.Wait.Max }},
}

// writeRankTables writes the per-rank diagnostics of the accepted round of
// r. Times are in seconds.
func writeRankTables(w io.Writer, r SizeResult, iters int) {
	if len(r.Ranks) == 0 {
		fmt.Fprintf(w, "No accepted round for %d bytes\n", r.Bytes())
		return
	}
	key := fmt.Sprintf("%d/%d", r.Bytes(), r.Work)

	fmt.Fprintf(w, "Total execution times (%d iterations) <(data size)/(work units injected)/(reference iteration time)/stdev [rank execution times]>:\n", iters)
	fmt.Fprintf(w, "%s/%f/%f %s\n", key, r.Ref.Time.Seconds(), r.Ref.Stdev.Seconds(),
		rankValues(r.Ranks, func(s RoundStats) time.Duration { return s.Total.Total }))

	for _, t := range rankTables {
		title := t.title
		if strings.Contains(title, "%d") {
			title = fmt.Sprintf(title, iters)
		}
		fmt.Fprintf(w, "\n%s <(data size)/(work units injected) [rank values]>:\n", title)
		fmt.Fprintf(w, "%s %s\n", key, rankValues(r.Ranks, t.pick))
	}
	fmt.Fprintln(w)
}

func rankValues(ranks []RoundStats, pick func(RoundStats) time.Duration) string {
	vals := make([]string, len(ranks))
	for i, r := range ranks {
		vals[i] = fmt.Sprintf("%f", pick(r).Seconds())
	}
	return strings.Join(vals, " ")
}
