package skrumble

import (
	"context"
	"fmt"
)

// Client is an API application registered with the auth service.
type Client struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// CreateClient registers a new API application under name.
func (s *Socket) CreateClient(ctx context.Context, name string) (*Client, error) {
	if err := requireFields("create client", field{"client_name", name}); err != nil {
		return nil, err
	}
	c := &Client{Name: name}
	if err := s.postJSON(ctx, s.authBase+"/v1/client", map[string]string{"name": name}, c); err != nil {
		return nil, fmt.Errorf("skrumble: create client: %w", err)
	}
	return c, nil
}
