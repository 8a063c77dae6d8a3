package main

import (
	"fmt"

	"github.com/helixir/search-agent/internal/agent"
	"github.com/helixir/search-agent/internal/index"
	"github.com/helixir/search-agent/internal/metadata"
	"github.com/helixir/search-agent/internal/transform"
)

func (a *app) metadataClient() (*metadata.Client, error) {
	client, err := metadata.New(metadata.Config{
		Endpoints:  a.cfg.Metadata.Endpoints,
		Timeout:    a.cfg.Metadata.Timeout,
		RateLimit:  a.cfg.Metadata.RateLimit,
		MaxRetries: a.cfg.Metadata.MaxRetries,
		RetryDelay: a.cfg.Metadata.RetryDelay,
		VerifyCert: a.cfg.Metadata.VerifyCert,
	}, a.metrics, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create metadata client: %w", err)
	}
	return client, nil
}

func (a *app) indexClient() (*index.Client, error) {
	client, err := index.New(index.Config{
		Addresses:  a.cfg.Index.Addresses,
		Index:      a.cfg.Index.Name,
		Username:   a.cfg.Index.Username,
		Password:   a.cfg.Index.Password,
		APIKey:     a.cfg.Index.APIKey,
		Refresh:    a.cfg.Index.Refresh,
		MaxRetries: a.cfg.Index.MaxRetries,
		Timeout:    a.cfg.Index.Timeout,
	}, a.metrics, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create index client: %w", err)
	}
	return client, nil
}

// processor wires the record processor. checkpointer and opts are only
// needed when consuming the stream.
func (a *app) processor(checkpointer agent.Checkpointer, opts ...agent.Option) (*agent.Processor, *index.Client, error) {
	metadataClient, err := a.metadataClient()
	if err != nil {
		return nil, nil, err
	}
	indexClient, err := a.indexClient()
	if err != nil {
		return nil, nil, err
	}

	p := agent.NewProcessor(
		metadataClient,
		indexClient,
		transform.New(),
		checkpointer,
		agent.Config{MaxDocumentFailures: a.cfg.Agent.MaxDocumentFailures},
		a.metrics,
		a.logger,
		opts...,
	)
	return p, indexClient, nil
}
