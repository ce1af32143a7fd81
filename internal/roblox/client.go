package roblox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

var ErrGroupNotFound = errors.New("roblox group not found")

// Endpoints are the public Roblox web API hosts.
type Endpoints struct {
	Thumbnails string
	Users      string
	Groups     string
}

var DefaultEndpoints = Endpoints{
	Thumbnails: "https://thumbnails.roblox.com",
	Users:      "https://users.roblox.com",
	Groups:     "https://groups.roblox.com",
}

// Client reads public Roblox profile and group data.
type Client struct {
	httpClient *http.Client
	endpoints  Endpoints
}

func NewClient(endpoints Endpoints) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoints:  endpoints,
	}
}

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

type Group struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Roles []Role `json:"roles"`
}

func (c *Client) get(ctx context.Context, rawURL string) (gjson.Result, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return gjson.Result{}, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, 0, fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, resp.StatusCode, fmt.Errorf("read %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, resp.StatusCode, fmt.Errorf("request %s: status=%d", req.URL.Path, resp.StatusCode)
	}
	return gjson.ParseBytes(body), resp.StatusCode, nil
}

// AvatarURL returns the 150x150 headshot of a user, or "" when unavailable.
func (c *Client) AvatarURL(ctx context.Context, robloxID string) string {
	q := url.Values{
		"userIds":    {robloxID},
		"size":       {"150x150"},
		"format":     {"Png"},
		"isCircular": {"false"},
	}
	res, _, err := c.get(ctx, c.endpoints.Thumbnails+"/v1/users/avatar-headshot?"+q.Encode())
	if err != nil {
		return ""
	}
	return res.Get("data.0.imageUrl").String()
}

// DisplayName returns the user's display name, falling back to the username.
func (c *Client) DisplayName(ctx context.Context, robloxID string) (string, error) {
	res, _, err := c.get(ctx, c.endpoints.Users+"/v1/users/"+url.PathEscape(robloxID))
	if err != nil {
		return "", err
	}
	if name := res.Get("displayName").String(); name != "" {
		return name, nil
	}
	return res.Get("name").String(), nil
}

// Group fetches a group and its roles. Roles are ordered by rank, highest
// first.
func (c *Client) Group(ctx context.Context, groupID string) (*Group, error) {
	var info, roles gjson.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, status, err := c.get(gctx, c.endpoints.Groups+"/v1/groups/"+url.PathEscape(groupID))
		if status == http.StatusNotFound || status == http.StatusBadRequest {
			return ErrGroupNotFound
		}
		info = res
		return err
	})
	g.Go(func() error {
		res, status, err := c.get(gctx, c.endpoints.Groups+"/v1/groups/"+url.PathEscape(groupID)+"/roles")
		if status == http.StatusNotFound || status == http.StatusBadRequest {
			return ErrGroupNotFound
		}
		roles = res
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	group := &Group{
		ID:   info.Get("id").String(),
		Name: info.Get("name").String(),
	}
	if group.ID == "" {
		group.ID = groupID
	}
	roles.Get("roles").ForEach(func(_, r gjson.Result) bool {
		group.Roles = append(group.Roles, Role{
			ID:   r.Get("id").String(),
			Name: r.Get("name").String(),
			Rank: int(r.Get("rank").Int()),
		})
		return true
	})
	sort.SliceStable(group.Roles, func(i, j int) bool { return group.Roles[i].Rank > group.Roles[j].Rank })
	return group, nil
}

// UserGroupRole returns the user's role in the group, or nil when the user
// is not a member.
func (c *Client) UserGroupRole(ctx context.Context, robloxID, groupID string) (*Role, error) {
	res, _, err := c.get(ctx, c.endpoints.Groups+"/v1/users/"+url.PathEscape(robloxID)+"/groups/roles")
	if err != nil {
		return nil, err
	}

	var role *Role
	res.Get("data").ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("group.id").String() != groupID {
			return true
		}
		role = &Role{
			ID:   entry.Get("role.id").String(),
			Name: entry.Get("role.name").String(),
			Rank: int(entry.Get("role.rank").Int()),
		}
		return false
	})
	return role, nil
}
