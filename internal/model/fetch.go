package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Fetch downloads the model at rawURL. A ".json" URL is read as a Manifest whose
// shards are fetched in order; anything else is treated as a single graph file.
func Fetch(ctx context.Context, client *resty.Client, rawURL string) (Source, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return Source{}, fmt.Errorf("invalid model url %q: %w", rawURL, err)
	}

	if !strings.EqualFold(path.Ext(base.Path), ".json") {
		graph, err := get(ctx, client, base.String())
		if err != nil {
			return Source{}, err
		}
		return Source{URL: rawURL, Manifest: Manifest{Format: FormatONNX}, Graph: graph}, nil
	}

	body, err := get(ctx, client, base.String())
	if err != nil {
		return Source{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return Source{}, fmt.Errorf("failed to parse model manifest: %w", err)
	}
	if manifest.Format == "" {
		manifest.Format = FormatONNX
	}
	if manifest.Format != FormatONNX {
		return Source{}, fmt.Errorf("unsupported model format %q", manifest.Format)
	}

	var graph []byte
	for _, group := range manifest.WeightsManifest {
		for _, p := range group.Paths {
			ref, err := url.Parse(p)
			if err != nil {
				return Source{}, fmt.Errorf("invalid shard path %q: %w", p, err)
			}
			shard, err := get(ctx, client, base.ResolveReference(ref).String())
			if err != nil {
				return Source{}, err
			}
			graph = append(graph, shard...)
		}
	}
	if len(graph) == 0 {
		return Source{}, fmt.Errorf("model manifest lists no weight shards")
	}
	return Source{URL: rawURL, Manifest: manifest, Graph: graph}, nil
}

func get(ctx context.Context, client *resty.Client, u string) ([]byte, error) {
	resp, err := client.R().SetContext(ctx).Get(u)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", u, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("request %s: server returned %s", u, resp.Status())
	}
	return resp.Body(), nil
}
