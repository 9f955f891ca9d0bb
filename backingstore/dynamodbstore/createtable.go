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

package dynamodbstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Table provisioning is explicitly out of scope for the lock protocol
// itself (the spec treats the backing store as an external collaborator),
// but CreateTable is kept as an opt-in convenience, exactly as the teacher
// library ships one: useful for local development and integration tests,
// never called from the acquire/renew/release path.

type createTableOptions struct {
	billingMode           types.BillingMode
	provisionedThroughput *types.ProvisionedThroughput
	tags                  []types.Tag
}

// CreateTableOption configures CreateTable.
type CreateTableOption func(*createTableOptions)

// WithProvisionedThroughput switches the table to provisioned billing
// instead of the default pay-per-request mode.
func WithProvisionedThroughput(t *types.ProvisionedThroughput) CreateTableOption {
	return func(o *createTableOptions) {
		o.billingMode = types.BillingModeProvisioned
		o.provisionedThroughput = t
	}
}

// WithTags attaches tags to the created table.
func WithTags(tags []types.Tag) CreateTableOption {
	return func(o *createTableOptions) { o.tags = tags }
}

// CreateTable provisions a DynamoDB table with the schema this package
// expects: a single string partition key named s.partitionKeyName. It
// returns an error if the table already exists.
func (s *Store) CreateTable(ctx context.Context, opts ...CreateTableOption) (*dynamodb.CreateTableOutput, error) {
	o := &createTableOptions{billingMode: types.BillingModePayPerRequest}
	for _, opt := range opts {
		opt(o)
	}
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(s.tableName),
		BillingMode: o.billingMode,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(s.partitionKeyName), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(s.partitionKeyName), AttributeType: types.ScalarAttributeTypeS},
		},
	}
	if o.provisionedThroughput != nil {
		input.ProvisionedThroughput = o.provisionedThroughput
	}
	if o.tags != nil {
		input.Tags = o.tags
	}
	out, err := s.api.CreateTable(ctx, input)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}
