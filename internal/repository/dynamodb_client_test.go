package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"farm-advisory-agent/internal/snapshot"
)

type fakeDynamo struct {
	queryOut   *dynamodb.QueryOutput
	queryErr   error
	queryIn    *dynamodb.QueryInput
	transactIn *dynamodb.TransactWriteItemsInput
	txErr      error
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactIn = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func farmItems() []map[string]types.AttributeValue {
	return []map[string]types.AttributeValue{
		{
			"PK": s("FARM#farm-1"), "SK": s("META#"),
			"farmName": s("Green Acres"), "location": s("Nakuru"), "notes": s("maize east field"),
		},
		{
			"PK": s("FARM#farm-1"), "SK": s("SENSOR#ph-1"),
			"name": s("Soil pH probe"), "type": s("pH"), "value": n("6.4"),
			"unit": s("pH"), "observedAt": s("2026-08-20T10:00:00Z"),
		},
		{
			"PK": s("FARM#farm-1"), "SK": s("SENSOR#m-1"),
			"name": s("Moisture sensor"), "type": s("soil moisture"), "value": s("41"),
			"unit": s("%"), "observedAt": s("2026-08-20T11:00:00Z"),
		},
		{
			"PK": s("FARM#farm-1"), "SK": s("WEATHER#"),
			"data": s(`{"temperatureC":28,"humidity":55,"windSpeed":8,"condition":"sunny","forecast":[{"day":"Mon","temperatureC":30,"chanceOfRain":75}]}`),
		},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "table")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestFetchFarm_MapsItems(t *testing.T) {
	api := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: farmItems()}}
	c, err := New(api, "advisory-table")
	require.NoError(t, err)

	raw, err := c.FetchFarm(context.Background(), "farm-1")
	require.NoError(t, err)
	require.Equal(t, "farm-1", raw.FarmID)
	require.Equal(t, "Green Acres", raw.FarmName)
	require.Equal(t, "Nakuru", raw.Location)
	require.Equal(t, "maize east field", raw.Notes)

	require.Len(t, raw.Sensors, 2)
	require.Equal(t, "ph-1", raw.Sensors[0].ID)
	require.Equal(t, "6.4", raw.Sensors[0].Value)
	require.Equal(t, "41", raw.Sensors[1].Value) // string-typed value survives
	require.Equal(t, time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), raw.Sensors[0].ObservedAt)

	require.NotNil(t, raw.Weather)
	require.Equal(t, 28.0, raw.Weather.TemperatureC)
	require.Len(t, raw.Weather.Forecast, 1)
	require.NotNil(t, raw.Weather.Forecast[0].ChanceOfRain)
	require.Equal(t, 75.0, *raw.Weather.Forecast[0].ChanceOfRain)
	require.Nil(t, raw.Weather.Forecast[0].PrecipitationProbability)

	require.Equal(t, "PK = :pk", *api.queryIn.KeyConditionExpression)
}

func TestFetchFarm_NotFound(t *testing.T) {
	api := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c, err := New(api, "advisory-table")
	require.NoError(t, err)

	_, err = c.FetchFarm(context.Background(), "missing")
	require.ErrorIs(t, err, snapshot.ErrFarmNotFound)
}

func TestFetchFarm_QueryError(t *testing.T) {
	api := &fakeDynamo{queryErr: errors.New("throttled")}
	c, err := New(api, "advisory-table")
	require.NoError(t, err)

	_, err = c.FetchFarm(context.Background(), "farm-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, snapshot.ErrFarmNotFound)
}

func TestSaveTurn_WritesTurnAndMetaTransactionally(t *testing.T) {
	api := &fakeDynamo{}
	c, err := New(api, "advisory-table")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, c.SaveTurn(context.Background(), "u1", "farm-1", "how is my pH?", "Looks fine.", "provider"))

	require.NotNil(t, api.transactIn)
	require.Len(t, api.transactIn.TransactItems, 2)

	turn := api.transactIn.TransactItems[0].Put
	require.Equal(t, "CONV#u1|farm-1", turn.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, turn.Item["SK"].(*types.AttributeValueMemberS).Value, "TURN#2026-08-20T12:00:00")
	require.Equal(t, "how is my pH?", turn.Item["question"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Looks fine.", turn.Item["answer"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "provider", turn.Item["source"].(*types.AttributeValueMemberS).Value)

	meta := api.transactIn.TransactItems[1].Put
	require.Equal(t, "META#", meta.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "provider", meta.Item["lastSource"].(*types.AttributeValueMemberS).Value)
}

func TestSaveTurn_Validation(t *testing.T) {
	c, err := New(&fakeDynamo{}, "advisory-table")
	require.NoError(t, err)

	require.Error(t, c.SaveTurn(context.Background(), "", "farm-1", "q", "a", "fallback"))
	require.Error(t, c.SaveTurn(context.Background(), "u1", " ", "q", "a", "fallback"))
}

func TestSaveTurn_TransactError(t *testing.T) {
	api := &fakeDynamo{txErr: errors.New("conditional check failed")}
	c, err := New(api, "advisory-table")
	require.NoError(t, err)

	err = c.SaveTurn(context.Background(), "u1", "farm-1", "q", "a", "fallback")
	require.Error(t, err)
}
