package roblox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users/avatar-headshot", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "150x150", r.URL.Query().Get("size"))
		w.Write([]byte(`{"data":[{"targetId":1,"state":"Completed","imageUrl":"https://tr.rbxcdn.com/head.png"}]}`))
	})
	mux.HandleFunc("/v1/users/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"name":"builderman","displayName":"Builder"}`))
	})
	mux.HandleFunc("/v1/users/2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":2,"name":"plain","displayName":""}`))
	})
	mux.HandleFunc("/v1/groups/10", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":10,"name":"Builders Club"}`))
	})
	mux.HandleFunc("/v1/groups/10/roles", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"groupId":10,"roles":[
			{"id":100,"name":"Guest","rank":0},
			{"id":101,"name":"Member","rank":1},
			{"id":255,"name":"Owner","rank":255},
			{"id":150,"name":"Admin","rank":200}
		]}`))
	})
	mux.HandleFunc("/v1/groups/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("/v1/groups/404/roles", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("/v1/users/1/groups/roles", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"group":{"id":9,"name":"Other"},"role":{"id":90,"name":"Fan","rank":1}},
			{"group":{"id":10,"name":"Builders Club"},"role":{"id":150,"name":"Admin","rank":200}}
		]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(Endpoints{Thumbnails: srv.URL, Users: srv.URL, Groups: srv.URL})
}

func TestAvatarURL(t *testing.T) {
	c := newTestClient(t)
	assert.Equal(t, "https://tr.rbxcdn.com/head.png", c.AvatarURL(context.Background(), "1"))
}

func TestDisplayName(t *testing.T) {
	c := newTestClient(t)

	name, err := c.DisplayName(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Builder", name)

	name, err = c.DisplayName(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "plain", name)
}

func TestGroup(t *testing.T) {
	c := newTestClient(t)

	group, err := c.Group(context.Background(), "10")
	require.NoError(t, err)
	assert.Equal(t, "Builders Club", group.Name)
	require.Len(t, group.Roles, 4)
	assert.Equal(t, []int{255, 200, 1, 0}, []int{group.Roles[0].Rank, group.Roles[1].Rank, group.Roles[2].Rank, group.Roles[3].Rank})

	_, err = c.Group(context.Background(), "404")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestUserGroupRole(t *testing.T) {
	c := newTestClient(t)

	role, err := c.UserGroupRole(context.Background(), "1", "10")
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.Equal(t, "150", role.ID)
	assert.Equal(t, 200, role.Rank)

	role, err = c.UserGroupRole(context.Background(), "1", "11")
	require.NoError(t, err)
	assert.Nil(t, role)
}
