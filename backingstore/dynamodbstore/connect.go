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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	cerrors "github.com/cirello-io/errors"
)

// Credential discovery and region configuration are explicitly the
// caller's concern (see the spec's Non-goals); NewFromEnv and
// NewFromStaticCredentials below are thin, optional conveniences built on
// top of aws-sdk-go-v2/config and aws-sdk-go-v2/credentials for the common
// case, not a requirement to route through this package.

// NewFromEnv builds a Store using the default AWS SDK credential chain
// (environment variables, shared config, instance role, and so on) for the
// given table.
func NewFromEnv(ctx context.Context, tableName string, opts ...Option) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, cerrors.E(cerrors.Internal, err, "dynamodbstore: cannot load AWS config")
	}
	return New(dynamodb.NewFromConfig(cfg), tableName, opts...), nil
}

// NewFromStaticCredentials builds a Store using fixed access key
// credentials, primarily for pointing at a local DynamoDB-compatible
// endpoint during development.
func NewFromStaticCredentials(ctx context.Context, region, accessKeyID, secretAccessKey, tableName string, opts ...Option) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, cerrors.E(cerrors.Internal, err, "dynamodbstore: cannot load AWS config")
	}
	return New(dynamodb.NewFromConfig(cfg), tableName, opts...), nil
}
