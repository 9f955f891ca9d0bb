/*
Copyright 2021 U. Cirello (cirello.io and github.com/cirello-io)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dynamodbstore is the production dynamolock.BackingStore,
// translating the four abstract lock operations into conditional
// GetItem/PutItem/DeleteItem calls against a single DynamoDB table keyed by
// a string partition key.
package dynamodbstore

import (
	"context"
	"errors"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	cerrors "github.com/cirello-io/errors"

	"github.com/alphagov/dynamolock"
)

const (
	attrOwner   = "owner"
	attrVersion = "version"
	attrLeaseMS = "leaseMs"
	attrPayload = "payload"
)

// API is the subset of the DynamoDB client this package depends on, so
// tests can substitute a fake without pulling in a real AWS endpoint.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Store is a dynamolock.BackingStore backed by a single DynamoDB table.
type Store struct {
	api              API
	tableName        string
	partitionKeyName string
}

// Option reconfigures a Store at construction time.
type Option func(*Store)

// WithPartitionKeyName overrides the default partition key attribute name
// ("name").
func WithPartitionKeyName(n string) Option {
	return func(s *Store) { s.partitionKeyName = n }
}

// New returns a Store that reads and writes tableName through api. The
// table is assumed to already exist with a single string partition key;
// use CreateTable to provision one.
func New(api API, tableName string, opts ...Option) *Store {
	s := &Store{api: api, tableName: tableName, partitionKeyName: "name"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements dynamolock.BackingStore with a strongly consistent read.
func (s *Store) Get(ctx context.Context, name string) (*dynamolock.Item, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key:            s.key(name),
	})
	if err != nil {
		return nil, classify(err)
	}
	if out.Item == nil {
		return nil, nil
	}
	return s.toItem(name, out.Item)
}

// PutIfAbsent implements dynamolock.BackingStore.
func (s *Store) PutIfAbsent(ctx context.Context, name, owner string, leaseMS uint64, payload []byte) (*dynamolock.Item, error) {
	cond := expression.AttributeNotExists(expression.Name(s.partitionKeyName))
	item, err := s.putWithCondition(ctx, cond, name, owner, 1, leaseMS, payload)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// PutIfMatches implements dynamolock.BackingStore.
func (s *Store) PutIfMatches(ctx context.Context, name, expectedOwner string, expectedVersion uint64, newOwner string, leaseMS uint64, payload []byte) (*dynamolock.Item, error) {
	cond := expression.And(
		expression.AttributeExists(expression.Name(s.partitionKeyName)),
		expression.Equal(expression.Name(attrOwner), expression.Value(expectedOwner)),
		expression.Equal(expression.Name(attrVersion), expression.Value(expectedVersion)),
	)
	return s.putWithCondition(ctx, cond, name, newOwner, expectedVersion+1, leaseMS, payload)
}

// DeleteIfMatches implements dynamolock.BackingStore.
func (s *Store) DeleteIfMatches(ctx context.Context, name, expectedOwner string, expectedVersion uint64) error {
	cond := expression.And(
		expression.AttributeExists(expression.Name(s.partitionKeyName)),
		expression.Equal(expression.Name(attrOwner), expression.Value(expectedOwner)),
		expression.Equal(expression.Name(attrVersion), expression.Value(expectedVersion)),
	)
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return cerrors.E(cerrors.Internal, err)
	}
	_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.key(name),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) putWithCondition(ctx context.Context, cond expression.ConditionBuilder, name, owner string, version, leaseMS uint64, payload []byte) (*dynamolock.Item, error) {
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, cerrors.E(cerrors.Internal, err)
	}
	item := map[string]types.AttributeValue{
		s.partitionKeyName: &types.AttributeValueMemberS{Value: name},
		attrOwner:          &types.AttributeValueMemberS{Value: owner},
		attrVersion:        &types.AttributeValueMemberN{Value: formatVersion(version)},
		attrLeaseMS:        &types.AttributeValueMemberN{Value: strconv.FormatUint(leaseMS, 10)},
	}
	if len(payload) > 0 {
		item[attrPayload] = &types.AttributeValueMemberB{Value: payload}
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, classify(err)
	}
	return &dynamolock.Item{Name: name, Owner: owner, Version: version, LeaseMS: leaseMS, Payload: payload}, nil
}

func (s *Store) key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.partitionKeyName: &types.AttributeValueMemberS{Value: name},
	}
}

func (s *Store) toItem(name string, attrs map[string]types.AttributeValue) (*dynamolock.Item, error) {
	owner := readString(attrs[attrOwner])
	version, err := readVersion(attrs[attrVersion])
	if err != nil {
		return nil, cerrors.E(cerrors.Internal, err)
	}
	leaseMS, _ := readUint(attrs[attrLeaseMS])
	var payload []byte
	if b, ok := attrs[attrPayload].(*types.AttributeValueMemberB); ok {
		payload = b.Value
	}
	return &dynamolock.Item{
		Name:    name,
		Owner:   owner,
		Version: version,
		LeaseMS: leaseMS,
		Payload: payload,
	}, nil
}

func formatVersion(v uint64) string { return strconv.FormatUint(v, 10) }

func readVersion(attr types.AttributeValue) (uint64, error) {
	return readUint(attr)
}

func readUint(attr types.AttributeValue) (uint64, error) {
	n, ok := attr.(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	return strconv.ParseUint(n.Value, 10, 64)
}

func readString(attr types.AttributeValue) string {
	s, ok := attr.(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return s.Value
}

// classify maps a DynamoDB/smithy error onto the store-level outcome kinds
// the engines above understand: a conditional check failure is always a
// conflict; throttling/limit error codes, InternalServerError, and context
// deadline or cancellation are transient; ResourceNotFoundException is
// not-found; everything else is treated as fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return cerrors.E(cerrors.FailedPrecondition, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException",
			"RequestLimitExceeded", "LimitExceededException", "InternalServerError":
			return cerrors.E(cerrors.Unavailable, err)
		case "ResourceNotFoundException":
			return cerrors.E(cerrors.NotExist, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return cerrors.E(cerrors.Unavailable, err)
	}
	return cerrors.E(cerrors.Internal, err)
}
