// Package rest reads products and discount rules from a PostgREST-style BaaS
// (Supabase and friends) over HTTP.
package rest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/solarshop412/solar-shop-sub003/pkg/httpclient"
)

const upstream = "baas"

// Client addresses the BaaS REST root. All repositories in this package share
// one Client.
type Client struct {
	doer    httpclient.Doer
	baseURL string
}

// NewClient returns a Client that sends requests through doer. baseURL is the
// project URL without the /rest/v1 suffix.
func NewClient(doer httpclient.Doer, baseURL string) *Client {
	return &Client{doer: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Client) tableURL(table string, query url.Values) string {
	return fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, table, query.Encode())
}

func (c *Client) rpcURL(fn string) string {
	return fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, fn)
}

func (c *Client) get(ctx context.Context, table string, query url.Values, out any) error {
	return httpclient.GetJSON(ctx, c.doer, c.tableURL(table, query), upstream, out)
}

func (c *Client) rpc(ctx context.Context, fn string, in, out any) error {
	return httpclient.PostJSON(ctx, c.doer, c.rpcURL(fn), upstream, in, out)
}
