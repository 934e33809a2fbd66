package overlapbench

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteSizeLine(t *testing.T) {
	var buf bytes.Buffer
	writeSizeLine(&buf, SizeResult{Elts: 4, Overlap: 87.5})
	assert.Equal(t, "32\t87.500000\n", buf.String())
}

func TestWriteTimeReport(t *testing.T) {
	var buf bytes.Buffer
	writeTimeReport(&buf, TimeResult{
		Elts:     1024,
		WorkTime: 1500 * time.Microsecond,
		Ref:      2 * time.Millisecond,
		Stdev:    250 * time.Microsecond,
		Overlap:  75,
	})

	assert.Equal(t, "Data size exchanged per rank: 8192 bytes\n"+
		"Injected work time: 1.500000 milli-seconds\n"+
		"Reference time: 2.000000 milli-seconds (stdev: 0.250000)\n"+
		"Overlap: 75 %\n", buf.String())
}

func TestWriteRankTables(t *testing.T) {
	var buf bytes.Buffer
	writeRankTables(&buf, SizeResult{Elts: 2}, 10)
	assert.Equal(t, "No accepted round for 16 bytes\n", buf.String())

	buf.Reset()
	writeRankTables(&buf, SizeResult{
		Elts: 2,
		Work: 40,
		Ref:  Reference{Time: time.Millisecond, Stdev: 100 * time.Microsecond},
		Ranks: []RoundStats{
			{Total: Summary{Total: time.Second}, Work: Summary{Max: 2 * time.Millisecond}},
			{Total: Summary{Total: 2 * time.Second}, Work: Summary{Max: 3 * time.Millisecond}},
		},
	}, 10)

	out := buf.String()
	assert.Contains(t, out, "Total execution times (10 iterations)")
	assert.Contains(t, out, "16/40/0.001000/0.000100 1.000000 2.000000\n")
	assert.Contains(t, out, "\nWork maxs per iteration <(data size)/(work units injected) [rank values]>:\n16/40 0.002000 0.003000\n")
	assert.Equal(t, len(rankTables)+1, strings.Count(out, "16/40"))
}
