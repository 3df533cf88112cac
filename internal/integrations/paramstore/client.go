// Package paramstore fetches provider credentials from AWS SSM Parameter
// Store. It is the fallback credential source when a key is not present in
// the environment.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// tokenPayload is the expected JSON shape of a stored credential parameter.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client wraps an AWS SSM API for credential retrieval.
type Client struct {
	api    ssmAPI
	prefix string
}

// New creates a Client reading parameters under the given prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: prefix must not be empty")
	}
	return &Client{api: api, prefix: prefix}, nil
}

// ProviderToken fetches the credential for the named provider from
// {prefix}/{provider}-token, stored as JSON {"token": "..."}.
func (c *Client) ProviderToken(ctx context.Context, provider string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", errors.New("paramstore: provider name is required")
	}
	raw, err := c.getParameter(ctx, c.prefix+"/"+provider+"-token")
	if err != nil {
		return "", err
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("paramstore: token for provider %q is empty", provider)
	}
	return tp.Token, nil
}

func (c *Client) getParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}
