//go:build wireinject
// +build wireinject

// Package di provides provider function declarations for Wire dependency
// injection. This file mirrors wire_providers.go: stub
// provider functions Wire's codegen reads to validate the dependency graph.
// The actual implementations live in container.go, which carries no build
// tag; only this file is limited to wireinject builds by the tag above.
package di

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/wire"
	"go.uber.org/zap"

	"kgraph-backend/internal/cache"
	"kgraph-backend/internal/config"
	"kgraph-backend/internal/store/graph"
	"kgraph-backend/internal/store/relational"
	"kgraph-backend/internal/store/vectorindex"
)

func provideConfig(configDir string) (*config.Config, error) { panic("wire") }
func provideLogger(cfg *config.Config) (*zap.Logger, error) { panic("wire") }

func provideAWSConfig(ctx context.Context) (awsconfig.Config, error) { panic("wire") }
func provideDynamoDBClient(cfg awsconfig.Config) *dynamodb.Client { panic("wire") }

func provideRelationalStore(ctx context.Context, cfg *config.Config) (*relational.Store, error) {
	panic("wire")
}
func provideGraphStore(client *dynamodb.Client, cfg *config.Config, vecIdx *vectorindex.Index) *graph.Store {
	panic("wire")
}
func provideVectorIndex(ctx context.Context, cfg *config.Config) (*vectorindex.Index, error) {
	panic("wire")
}
func provideCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) { panic("wire") }

// WireSet is the provider set InitializeContainer would be generated from,
// kept for parity with wire.Build call shape. There is no
// generated wire_gen.go in this tree: the hand-written container.go in
// this package is what actually runs.
var WireSet = wire.NewSet(
	provideConfig,
	provideLogger,
	provideAWSConfig,
	provideDynamoDBClient,
	provideRelationalStore,
	provideGraphStore,
	provideVectorIndex,
	provideCache,
)
