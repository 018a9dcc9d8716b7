package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forcesim/forcesim-client/forcesim"
	"github.com/forcesim/forcesim-client/internal/testutil"
)

func newTestClient(t *testing.T) (*Client, *testutil.Instance, *test.Hook) {
	t.Helper()
	inst := testutil.NewInstance(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewFromURL(inst.Server.URL, WithLogger(logger)), inst, hook
}

func cohortSpec(force float64) forcesim.AgentSpec {
	return forcesim.AgentSpec{
		Type: forcesim.ModeledCohortAgent,
		Config: forcesim.ModeledCohortAgentConfig{
			AgentConfigBase:    forcesim.AgentConfigBase{ExternalForce: force, ScheduleEvery: 1},
			InitialVariance:    1,
			VarianceMultiplier: 0.1,
			ForceThreshold:     1,
			DefaultPriceView:   2,
		},
	}
}

func TestNew_BuildsBaseURL(t *testing.T) {
	c := New("127.0.0.1", 18080)
	assert.Equal(t, "http://127.0.0.1:18080", c.BaseURL())
}

func TestWithTimeout_KeepsCustomHTTPClient(t *testing.T) {
	// GIVEN a custom HTTP client with its own transport
	transport := &http.Transport{}
	custom := &http.Client{Transport: transport}

	// WHEN a timeout is applied after it
	c := New("127.0.0.1", 18080, WithHTTPClient(custom), WithTimeout(3*time.Second))

	// THEN the transport survives, the timeout is set and the caller's client is untouched
	assert.Same(t, transport, c.httpClient.Transport)
	assert.Equal(t, 3*time.Second, c.httpClient.Timeout)
	assert.Zero(t, custom.Timeout)
}

func TestClient_MarketOperations_SendExpectedRequests(t *testing.T) {
	c, inst, _ := newTestClient(t)
	ctx := context.Background()
	for _, path := range []string{"/market/reset", "/market/configure", "/market/start", "/market/stop", "/market/run"} {
		inst.Respond(http.MethodPost, path, http.StatusOK, testutil.OK(nil))
	}
	inst.Respond(http.MethodGet, "/market/wait_for_stop", http.StatusOK, testutil.OK(nil))

	_, err := c.Reset(ctx)
	require.NoError(t, err)
	_, err = c.Configure(ctx, MarketOptions{IterBlock: 250})
	require.NoError(t, err)
	_, err = c.Start(ctx)
	require.NoError(t, err)
	_, err = c.Run(ctx, 100)
	require.NoError(t, err)
	_, err = c.WaitForStop(ctx)
	require.NoError(t, err)
	_, err = c.Stop(ctx)
	require.NoError(t, err)

	assert.JSONEq(t, `{"iter_block": 250}`, string(inst.Requests("/market/configure")[0].Body))
	assert.JSONEq(t, `{"iter_count": 100}`, string(inst.Requests("/market/run")[0].Body))
	assert.Equal(t, "null", string(inst.Requests("/market/reset")[0].Body))
	assert.Equal(t, http.MethodGet, inst.Requests("/market/wait_for_stop")[0].Method)
}

func TestClient_Run_NonPositiveCount_RejectedLocally(t *testing.T) {
	c, inst, _ := newTestClient(t)
	_, err := c.Run(context.Background(), 0)
	assert.ErrorIs(t, err, forcesim.ErrValidation)
	assert.Empty(t, inst.Requests("/market/run"))
}

func TestClient_ErrorEnvelope_ReturnsErrorResponse(t *testing.T) {
	// GIVEN an instance answering start with Already_started and HTTP 400
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/market/start", http.StatusBadRequest,
		testutil.Envelope("Already_started", "market already started", nil, nil))

	// WHEN start is called
	_, err := c.Start(context.Background())

	// THEN the structured error is returned
	var er *ErrorResponse
	require.True(t, errors.As(err, &er))
	assert.Equal(t, AlreadyStarted, er.Code())
	assert.Equal(t, "market already started", er.Response.Message)
}

func TestClient_NotFoundEnvelope_IsNotIntegrityError(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodGet, "/agent/list", http.StatusNotFound,
		[]byte(`{"error_code":"Not_found","data_type":null,"data":null,"message":"x"}`))

	_, err := c.ListAgents(context.Background())

	assert.True(t, IsCode(err, NotFound))
	var ie *IntegrityError
	assert.False(t, errors.As(err, &ie))
}

func TestClient_UnparsableBody_IntegrityErrorPropagatesUnmodified(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodGet, "/subscribers/list", http.StatusInternalServerError, []byte("<html>oops</html>"))

	_, err := c.ListSubscribers(context.Background())

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "<html>oops</html>", ie.RawText)
}

func TestClient_EmitInfo_SendsFlatInfoObjects(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/info/emit", http.StatusOK, testutil.OK(map[string]int{"timepoint": 3}))

	info := forcesim.SubjectiveInfo{
		SubjectivityExtent: 1,
		PriceIndication:    decimal.RequireFromString("1000.125"),
		IsRelative:         false,
	}
	_, err := c.EmitInfo(context.Background(), []forcesim.Info{info})
	require.NoError(t, err)

	assert.JSONEq(t,
		`[{"type":"Subjective","subjectivity_extent":1,"price_indication":1000.125,"is_relative":false}]`,
		string(inst.Requests("/info/emit")[0].Body))
}

func TestClient_AddAgents_IDCountsMatchRequestedCounts(t *testing.T) {
	// GIVEN two in-range specs requesting 2 and 3 agents
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/agent/add", http.StatusOK, testutil.Multi("Multiple_barelist", []any{
		[]int{1, 2},
		[]int{3, 4, 5},
	}, nil))

	// WHEN added
	res, err := c.AddAgents(context.Background(), []AgentRequest{
		{Spec: cohortSpec(0.1), Count: 2},
		{Spec: cohortSpec(100), Count: 3},
	})

	// THEN records line up component-wise with the requested counts
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Len(t, res.Records[0], 2)
	assert.Len(t, res.Records[1], 3)
	assert.Equal(t, int64(5), res.Records[1][2].ID)
	assert.Equal(t, 0, res.Dropped)

	var sent []map[string]any
	require.NoError(t, json.Unmarshal(inst.Requests("/agent/add")[0].Body, &sent))
	require.Len(t, sent, 2)
	assert.Equal(t, "ModeledCohortAgent", sent[0]["type"])
	assert.Equal(t, float64(2), sent[0]["count"])
	cfg := sent[0]["config"].(map[string]any)
	assert.Equal(t, 0.1, cfg["external_force"])
	assert.Equal(t, float64(1), cfg["force_threshold"])
}

func TestClient_AddAgents_OutOfRangeSpecDroppedWithWarning(t *testing.T) {
	// GIVEN one spec with external_force 150
	c, inst, hook := newTestClient(t)
	inst.Respond(http.MethodPost, "/agent/add", http.StatusOK, testutil.Multi("Multiple_barelist", []any{
		[]int{10},
	}, nil))

	// WHEN added alongside a valid spec
	res, err := c.AddAgents(context.Background(), []AgentRequest{
		{Spec: cohortSpec(150), Count: 4},
		{Spec: cohortSpec(50), Count: 1},
	})

	// THEN the bad spec is excluded, a warning is logged and the rest succeed
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(10), res.Records[0][0].ID)
	assert.Equal(t, 50.0, res.Accepted[0].Spec.Config.Base().ExternalForce)

	var sent []json.RawMessage
	require.NoError(t, json.Unmarshal(inst.Requests("/agent/add")[0].Body, &sent))
	assert.Len(t, sent, 1)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "dropped 1") {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning counting the dropped spec")
}

func TestClient_AddAgents_AllDropped_NoRequest(t *testing.T) {
	c, inst, _ := newTestClient(t)
	res, err := c.AddAgents(context.Background(), []AgentRequest{{Spec: cohortSpec(-1), Count: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Nil(t, res.Response)
	assert.Empty(t, inst.Requests("/agent/add"))
}

func TestClient_AddAgents_CountMismatch_IntegrityErrorNamesPosition(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/agent/add", http.StatusOK, testutil.Multi("Multiple_barelist", []any{
		[]int{1, 2},
		[]int{3},
	}, nil))

	_, err := c.AddAgents(context.Background(), []AgentRequest{
		{Spec: cohortSpec(1), Count: 2},
		{Spec: cohortSpec(1), Count: 2},
	})

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, ie.Message, "result 1")
	assert.Contains(t, ie.Message, "has 1 ids, requested 2")
}

func TestClient_AddAgents_AcceptsBareIDArrayAndIDsObject(t *testing.T) {
	// GIVEN an instance answering one item as a bare id array and one as an {ids} object
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/agent/add", http.StatusOK, testutil.Multi("Multiple_barelist", []any{
		[]int{1, 2},
		map[string]any{"ids": []int{3}},
	}, nil))

	// WHEN added
	res, err := c.AddAgents(context.Background(), []AgentRequest{
		{Spec: cohortSpec(1), Count: 2},
		{Spec: cohortSpec(1), Count: 1},
	})

	// THEN both forms yield their ids
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, []int64{1, 2}, []int64{res.Records[0][0].ID, res.Records[0][1].ID})
	assert.Equal(t, int64(3), res.Records[1][0].ID)
}

func TestClient_AddAgents_ItemNotAnIDList_IntegrityError(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/agent/add", http.StatusOK, testutil.Multi("Multiple_barelist", []any{
		map[string]any{"agents": []int{1}},
	}, nil))

	_, err := c.AddAgents(context.Background(), []AgentRequest{{Spec: cohortSpec(1), Count: 1}})

	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Contains(t, ie.Message, "is not an id list")
}

func TestClient_AddAgents_PerItemFailure_ReturnsMultipleError(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/agent/add", http.StatusOK, testutil.Multi("Multiple_barelist", []any{
		[]string{"Agent_config_error", "bad config"},
	}, []any{0}))

	_, err := c.AddAgents(context.Background(), []AgentRequest{{Spec: cohortSpec(1), Count: 1}})

	var er *ErrorResponse
	require.True(t, errors.As(err, &er))
	assert.Equal(t, Multiple, er.Code())
	assert.Equal(t, AgentConfigError, er.Response.Data.Bare[0].Err.Code)
}

func TestClient_AddSubscribers_ReshapesRequestAndZipsIDs(t *testing.T) {
	// GIVEN a PRICE subscriber and an AGENT_ACTION subscriber
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/subscribers/add", http.StatusOK,
		testutil.Multi("Multiple_barelist", []any{41, 42}, nil))
	configs := []forcesim.SubscriberConfig{
		{Type: forcesim.Price, Port: 5000, Addr: "127.0.0.1"},
		forcesim.SubscriberConfig{Type: forcesim.AgentAction, Port: 5001, Granularity: 5, Addr: "127.0.0.1"}.WithAgentParameter(9),
	}

	// WHEN registered
	records, _, err := c.AddSubscribers(context.Background(), configs)

	// THEN ids are zipped back onto the configs
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(41), records[0].ID)
	assert.Equal(t, forcesim.Price, records[0].Config.Type)
	assert.Equal(t, int64(42), records[1].ID)

	// AND the request carries a nested endpoint and a hoisted parameter
	assert.JSONEq(t, `[
		{"parameter": {}, "config": {"type": "PRICE", "granularity": 1, "endpoint": {"remote_addr": "127.0.0.1", "remote_port": 5000}}},
		{"parameter": {"id": 9}, "config": {"type": "AGENT_ACTION", "granularity": 5, "endpoint": {"remote_addr": "127.0.0.1", "remote_port": 5001}}}
	]`, string(inst.Requests("/subscribers/add")[0].Body))
}

func TestClient_AddSubscribers_SkipsStringMarkers(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/subscribers/add", http.StatusOK,
		testutil.Multi("Multiple_barelist", []any{"endpoint in use", 8}, nil))
	configs := []forcesim.SubscriberConfig{
		{Type: forcesim.Price, Port: 5000},
		{Type: forcesim.Price, Port: 5001},
	}

	records, _, err := c.AddSubscribers(context.Background(), configs)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(8), records[0].ID)
	assert.Equal(t, 5001, records[0].Config.Port)
}

func TestClient_AddSubscribers_ConfigError(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/subscribers/add", http.StatusBadRequest,
		testutil.Envelope("Subscriber_config_error", "bad endpoint", nil, nil))

	_, _, err := c.AddSubscribers(context.Background(), []forcesim.SubscriberConfig{{Type: forcesim.Price, Port: 1}})

	assert.True(t, IsCode(err, SubscriberConfigError))
}

func TestClient_DeleteRequests_SendIDLists(t *testing.T) {
	c, inst, _ := newTestClient(t)
	inst.Respond(http.MethodPost, "/agent/delete", http.StatusOK,
		testutil.Multi("Multiple_pairlist", []any{[]any{1, true}, []any{2, true}}, nil))
	inst.Respond(http.MethodPost, "/subscribers/delete", http.StatusOK,
		testutil.Multi("Multiple_pairlist", []any{[]any{41, true}}, nil))

	resp, err := c.DeleteAgents(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, resp.Data.Pairs, 2)

	_, err = c.DelSubscribers(context.Background(), []forcesim.SubscriberRecord{{ID: 41}})
	require.NoError(t, err)

	assert.JSONEq(t, `[1,2]`, string(inst.Requests("/agent/delete")[0].Body))
	assert.JSONEq(t, `[41]`, string(inst.Requests("/subscribers/delete")[0].Body))
}
