package overlapbench

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexshd/overlapbench/comm"
)

func TestCalibrate(t *testing.T) {
	var out syncBuffer
	p := testParams(true)

	err := comm.RunLocal(testContext(t), 2, func(ctx context.Context, g *comm.Group) error {
		return Calibrate(ctx, g, p, &out)
	})
	require.NoError(t, err)

	lines := strings.Split(out.String(), "\n")
	require.Greater(t, len(lines), 3)
	assert.Equal(t, "Message size\tlatency (us)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "8\t\t"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "16\t\t"), lines[2])

	// One polling profile per size, one value per rank.
	assert.Equal(t, 2, strings.Count(out.String(), "Test counts per rank - 1 iteration\n"))
	for i, l := range lines {
		if strings.HasPrefix(l, "Test counts per rank") {
			assert.Len(t, strings.Fields(lines[i+1]), 2)
		}
	}
}

func TestWritePollProfiles(t *testing.T) {
	var buf bytes.Buffer
	writePollProfiles(&buf, []PollProfile{
		{Total: 30 * time.Microsecond, Max: 12 * time.Microsecond, Last: 2 * time.Microsecond, Count: 7},
		{Total: 5 * time.Microsecond, Max: 5 * time.Microsecond, Last: 5 * time.Microsecond, Count: 1},
	})

	assert.Equal(t, "Total test times per rank (us) - 1 iteration\n30 5\n"+
		"Max test times per rank (us) - 1 iteration\n12 5\n"+
		"Last test times per rank (us) - 1 iteration\n2 5\n"+
		"Test counts per rank - 1 iteration\n7 1\n", buf.String())
}
