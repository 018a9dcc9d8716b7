package cmd

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forcesim/forcesim-client/forcesim"
	"github.com/forcesim/forcesim-client/forcesim/client"
	"github.com/forcesim/forcesim-client/forcesim/points"
	"github.com/forcesim/forcesim-client/internal/testutil"
)

func TestWriteSummary_PrintsSeriesStatistics(t *testing.T) {
	// GIVEN a summary of three prices
	s := points.Summarize([]forcesim.Point{
		{Timepoint: 1, Value: 1000},
		{Timepoint: 2, Value: 1002},
		{Timepoint: 3, Value: 998},
	})
	var buf bytes.Buffer

	// WHEN printed
	writeSummary(&buf, "price.json", s)

	// THEN every statistic appears
	out := buf.String()
	assert.Contains(t, out, "=== price.json ===")
	assert.Contains(t, out, "Points : 3")
	assert.Contains(t, out, "Range  : t=1..3")
	assert.Contains(t, out, "Min    : 998")
	assert.Contains(t, out, "Max    : 1002")
	assert.Contains(t, out, "Mean   : 1000.0000")
}

func TestWriteSummary_EmptySeries(t *testing.T) {
	var buf bytes.Buffer
	writeSummary(&buf, "empty.json", points.Summary{})
	assert.Equal(t, "=== empty.json ===\nPoints : 0\n", buf.String())
}

func TestWriteListing_IndentsResponseData(t *testing.T) {
	// GIVEN an instance listing two agents
	inst := testutil.NewInstance(t)
	inst.Respond(http.MethodGet, "/agent/list", http.StatusOK,
		testutil.OK(map[string]any{"1": "ModeledCohortAgent", "2": "TrivialAgent"}))
	resp, err := client.NewFromURL(inst.Server.URL).ListAgents(context.Background())
	require.NoError(t, err)
	var buf bytes.Buffer

	// WHEN the listing is written
	require.NoError(t, writeListing(&buf, resp))

	// THEN it is the data as indented JSON
	assert.JSONEq(t, `{"1":"ModeledCohortAgent","2":"TrivialAgent"}`, buf.String())
	assert.Contains(t, buf.String(), "\n  \"1\"")
}

func TestWriteListing_NullData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeListing(&buf, &client.Response{}))
	assert.Equal(t, "null\n", buf.String())
}
