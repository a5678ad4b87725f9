// Package repository talks to the hosted data platform: a single DynamoDB
// table holding farm telemetry (written by the ingestion pipeline, read
// here) and conversation turns (written here for history and analytics).
//
// Table layout:
//
//	PK=FARM#<farmId>          SK=META#               farm identity
//	                          SK=SENSOR#<sensorId>   one item per sensor
//	                          SK=WEATHER#            weather document (JSON)
//	PK=CONV#<userId>|<farmId> SK=TURN#<timestamp>    one item per exchange
//	                          SK=META#               conversation metadata
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"farm-advisory-agent/internal/snapshot"
)

const (
	skMeta         = "META#"
	skPrefixSensor = "SENSOR#"
	skWeather      = "WEATHER#"
	skPrefixTurn   = "TURN#"
	ttlDuration    = 30 * 24 * time.Hour // conversation turns expire after 30 days
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps the advisory table.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func farmPK(farmID string) string {
	return "FARM#" + farmID
}

func convPK(userID, farmID string) string {
	return "CONV#" + userID + "|" + farmID
}

func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// FetchFarm reads every item in the farm's partition and folds them into a
// raw farm record for the snapshot assembler. A farm with no items at all is
// snapshot.ErrFarmNotFound.
func (c *Client) FetchFarm(ctx context.Context, farmID string) (snapshot.RawFarm, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: farmPK(farmID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return snapshot.RawFarm{}, fmt.Errorf("repository: FetchFarm query: %w", err)
	}
	if len(out.Items) == 0 {
		return snapshot.RawFarm{}, fmt.Errorf("repository: farm %q: %w", farmID, snapshot.ErrFarmNotFound)
	}

	raw := snapshot.RawFarm{FarmID: farmID}
	for _, item := range out.Items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return snapshot.RawFarm{}, fmt.Errorf("repository: FetchFarm item: %w", err)
		}
		switch {
		case sk == skMeta:
			raw.FarmName = optStrAttr(item, "farmName")
			raw.Location = optStrAttr(item, "location")
			raw.Notes = optStrAttr(item, "notes")
		case strings.HasPrefix(sk, skPrefixSensor):
			sensor, err := itemToSensor(item, strings.TrimPrefix(sk, skPrefixSensor))
			if err != nil {
				return snapshot.RawFarm{}, fmt.Errorf("repository: FetchFarm sensor %q: %w", sk, err)
			}
			raw.Sensors = append(raw.Sensors, sensor)
		case sk == skWeather:
			weather, err := itemToWeather(item)
			if err != nil {
				return snapshot.RawFarm{}, fmt.Errorf("repository: FetchFarm weather: %w", err)
			}
			raw.Weather = weather
		}
	}
	return raw, nil
}

// SaveTurn writes one completed exchange and refreshes the conversation
// metadata in a single transaction; a turn is either fully recorded or not
// at all.
func (c *Client) SaveTurn(ctx context.Context, userID, farmID, question, answer, source string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(farmID) == "" {
		return errors.New("repository: SaveTurn: user id and farm id are required")
	}
	now := c.now().UTC()
	pk := convPK(userID, farmID)
	ttl := c.ttlValue()

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item: map[string]types.AttributeValue{
						"PK":       &types.AttributeValueMemberS{Value: pk},
						"SK":       &types.AttributeValueMemberS{Value: turnSK(now)},
						"question": &types.AttributeValueMemberS{Value: question},
						"answer":   &types.AttributeValueMemberS{Value: answer},
						"source":   &types.AttributeValueMemberS{Value: source},
						"ttl":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
					},
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item: map[string]types.AttributeValue{
						"PK":           &types.AttributeValueMemberS{Value: pk},
						"SK":           &types.AttributeValueMemberS{Value: skMeta},
						"lastActivity": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
						"lastSource":   &types.AttributeValueMemberS{Value: source},
						"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

func itemToSensor(item map[string]types.AttributeValue, id string) (snapshot.RawSensor, error) {
	sensorType, err := strAttr(item, "type")
	if err != nil {
		return snapshot.RawSensor{}, err
	}
	sensor := snapshot.RawSensor{
		ID:    id,
		Name:  optStrAttr(item, "name"),
		Type:  sensorType,
		Value: anyValueAttr(item, "value"),
		Unit:  optStrAttr(item, "unit"),
	}
	if ts := optStrAttr(item, "observedAt"); ts != "" {
		observed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return snapshot.RawSensor{}, fmt.Errorf("parse observedAt: %w", err)
		}
		sensor.ObservedAt = observed
	}
	return sensor, nil
}

// itemToWeather decodes the weather document attribute, which the ingestion
// pipeline stores as a JSON string. The two precipitation-probability field
// spellings survive here and are normalized by the snapshot assembler.
func itemToWeather(item map[string]types.AttributeValue) (*snapshot.RawWeather, error) {
	doc, err := strAttr(item, "data")
	if err != nil {
		return nil, err
	}
	var weather snapshot.RawWeather
	if err := json.Unmarshal([]byte(doc), &weather); err != nil {
		return nil, fmt.Errorf("decode weather document: %w", err)
	}
	return &weather, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

// anyValueAttr reads a sensor value that may be stored as either a number
// or a string attribute. Anything else is returned as-is and ends up NaN
// after coercion.
func anyValueAttr(item map[string]types.AttributeValue, key string) string {
	switch v := item[key].(type) {
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberS:
		return v.Value
	}
	return ""
}
